package chat

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"telethu/logger"
	msg "telethu/module/message"
	"telethu/service/natsx"
	"telethu/tools/safe"
)

// ConnState 连接协议状态机
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateSubscribed
	StateServing
	StateClosing
	StateClosed
)

// Conn 一条存活的客户端连接。握手时创建，断开即销毁，
// 不留任何持久状态；重连会重走整个状态机重建缓存。
type Conn struct {
	ID        string // 连接 id（日志用）
	UserID    msg.UserID
	SessionID string // 设备/页签维度，订阅的身份标识

	cache *Cache
	acks  *AckManager

	router *Router
	sub    natsx.Subscription

	send       chan []byte // 写泵队列，单写协程消费
	deliveries chan []byte // broker 投递队列

	state     atomic.Int32
	closeOnce sync.Once
	done      chan struct{}
}

func NewConn(router *Router, userID msg.UserID, sessionID string) *Conn {
	return &Conn{
		ID:         uuid.NewString(),
		UserID:     userID,
		SessionID:  sessionID,
		cache:      NewCache(),
		acks:       NewAckManager(router.cfg.AckTimeout, router.cfg.AckMaxAttempts),
		router:     router,
		send:       make(chan []byte, 256),
		deliveries: make(chan []byte, 1024),
		done:       make(chan struct{}),
	}
}

func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// Start 走完 Connecting -> Subscribed -> Serving。
// 身份已经由上游校验，这里信任传入的 userID。
func (c *Conn) Start(ctx context.Context) error {
	c.state.Store(int32(StateConnecting))

	// Subscribed：批量装载关系缓存
	friends, err := c.router.store.FriendsOf(ctx, c.UserID)
	if err != nil {
		return err
	}
	groups, err := c.router.store.GroupsOf(ctx, c.UserID)
	if err != nil {
		return err
	}
	c.cache.LoadFriends(friends)
	c.cache.LoadGroups(groups)

	// session 维度的订阅，绑到自己用户的 fan-out 地址
	sub, err := c.router.fabric.Subscribe(natsx.UserTopic(itoa(c.UserID)), c.SessionID, func(data []byte) {
		select {
		case c.deliveries <- data:
		case <-c.done:
		}
	})
	if err != nil {
		return err
	}
	c.sub = sub
	c.state.Store(int32(StateSubscribed))

	if c.router.presence != nil {
		if err := c.router.presence.Online(ctx, itoa(c.UserID), c.SessionID); err != nil {
			logger.Warnf("[conn] presence online failed user=%d err=%v", c.UserID, err)
		}
	}

	// Serving：先推联系人快照，然后两条事件源并发伺候
	if err := c.router.SendSnapshot(ctx, c); err != nil {
		logger.Warnf("[conn] snapshot failed user=%d err=%v", c.UserID, err)
	}
	safe.SafeGo(func() { c.deliverLoop() })

	c.state.Store(int32(StateServing))
	logger.Infof("[conn] serving user=%d session=%s conn=%s", c.UserID, c.SessionID, c.ID)
	return nil
}

// deliverLoop broker 投递路径，和客户端帧路径互不阻塞
func (c *Conn) deliverLoop() {
	for {
		select {
		case <-c.done:
			return
		case raw := <-c.deliveries:
			c.router.HandleDelivery(context.Background(), c, raw)
		}
	}
}

// HandleFrame 客户端帧路径
func (c *Conn) HandleFrame(ctx context.Context, raw []byte) {
	c.router.HandleClientFrame(ctx, c, raw)
}

// Enqueue 写入这条连接的发送队列；连接已关则静默丢弃
func (c *Conn) Enqueue(frame []byte) error {
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return errConnClosed
	}
}

// Send 写泵消费的通道
func (c *Conn) Send() <-chan []byte { return c.send }

func (c *Conn) Done() <-chan struct{} { return c.done }

// Close 拆连接：退订、回收 ack 记录、下线。未 ack 的投递直接作废。
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		if c.sub != nil {
			if err := c.sub.Unsubscribe(); err != nil {
				logger.Warnf("[conn] unsubscribe failed conn=%s err=%v", c.ID, err)
			}
		}
		c.acks.Close()
		if c.router.presence != nil {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			_ = c.router.presence.Offline(ctx, itoa(c.UserID), c.SessionID)
		}
		close(c.done)
		c.state.Store(int32(StateClosed))
		logger.Infof("[conn] closed user=%d session=%s conn=%s", c.UserID, c.SessionID, c.ID)
	})
}
