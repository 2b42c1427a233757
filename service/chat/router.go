package chat

import (
	"context"
	"errors"
	"strconv"
	"time"

	"telethu/logger"
	"telethu/module/identity"
	msg "telethu/module/message"
	"telethu/service/natsx"
	storage "telethu/service/storage"
	"telethu/tools/errs"
	"telethu/tools/ids"
)

var errConnClosed = errors.New("connection closed")

const closeTimeout = 2 * time.Second

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

// StorageSink 永久存储的发布口。fire-and-forget，路由不等落库。
type StorageSink interface {
	Publish(key string, data []byte) error
}

// RouterConfig 路由策略
type RouterConfig struct {
	AckTimeout     time.Duration
	AckMaxAttempts int
	RecallWindow   time.Duration
}

// Router 消息路由器：对客户端帧分类定receiver集合并发到 fabric，
// 对 broker 投递打本地缓存补丁并交给 ack 管理器送往客户端。
// 无状态，所有连接共用一个实例。
type Router struct {
	store    identity.Store
	fabric   natsx.Fabric
	sink     StorageSink
	presence *storage.OnlineManager // 可空（测试）
	cfg      RouterConfig

	handlers map[msg.Kind]handlerFunc
}

// handlerFunc 按 kind 执行协作方变更并给出最终 receiver 集合。
// 返回错误时不 fan-out，错误只回发送方。
type handlerFunc func(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error)

func NewRouter(store identity.Store, fabric natsx.Fabric, sink StorageSink, presence *storage.OnlineManager, cfg RouterConfig) *Router {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 8 * time.Second
	}
	if cfg.AckMaxAttempts <= 0 {
		cfg.AckMaxAttempts = 5
	}
	if cfg.RecallWindow <= 0 {
		cfg.RecallWindow = 2 * time.Minute
	}
	r := &Router{
		store:    store,
		fabric:   fabric,
		sink:     sink,
		presence: presence,
		cfg:      cfg,
	}
	r.handlers = buildHandlerTable()
	return r
}

// HandleClientFrame 入站（客户端 -> 路由器）：
// 一帧进来，要么是纯 ack，要么变成零或多次 fabric 发布。
// 坏帧只记日志，连接不拆。
func (r *Router) HandleClientFrame(ctx context.Context, c *Conn, raw []byte) {
	env, err := msg.Parse(raw)
	if err != nil {
		logger.Warnf("[router] malformed frame user=%d err=%v", c.UserID, err)
		return
	}

	// 无 m_type：纯客户端回执
	if env.IsAck() {
		c.acks.Acknowledge(env.MessageID)
		return
	}

	if !env.Kind.Known() {
		logger.Warnf("[router] unknown kind=%d user=%d", env.Kind, c.UserID)
		return
	}

	// 服务端赋值字段，客户端给了也覆盖
	env.Sender = c.UserID

	// tmp_id 去重：同一连接重发未回执的帧，按原 message_id 再回一次
	if env.TmpID != "" {
		if assigned, ok := c.cache.TempID(env.TmpID); ok {
			r.sendSubmitAck(c, assigned, env.TmpID)
			return
		}
	}

	env.MessageID = ids.Generate()
	env.Time = time.Now().UnixMilli()

	h, ok := r.handlers[env.Kind]
	if !ok {
		logger.Warnf("[router] no handler kind=%v user=%d", env.Kind, c.UserID)
		return
	}

	// 内容消息先过授权门，再进永久存储（存储不依赖投递成功）
	if env.Kind.IsStorable() {
		if err := r.gate(ctx, c, env); err != nil {
			r.replyError(c, env, err)
			return
		}
		r.publishStorage(env)
	}

	receivers, err := h(ctx, r, c, env)
	if errors.Is(err, errNoFanout) {
		return
	}
	if err != nil {
		r.replyError(c, env, err)
		return
	}

	r.fanout(ctx, env, receivers, c.UserID)

	if env.TmpID != "" {
		c.cache.RememberTempID(env.TmpID, env.MessageID)
		r.sendSubmitAck(c, env.MessageID, env.TmpID)
	}
}

// gate 内容消息的授权门，过了门才许进永久存储。
// 直发必须是当前被接受的好友（拉黑/软删都不算），群发必须在缓存成员表里。
func (r *Router) gate(ctx context.Context, c *Conn, env *msg.Envelope) error {
	switch env.Target {
	case msg.TargetFriend:
		if env.Receiver == c.UserID {
			return errs.ErrSelfTarget
		}
		if !c.cache.IsFriend(env.Receiver) {
			// 缓存没有只说明不是好友，拉黑态要回表看一眼才能给对错误码
			if state, _, ok, err := r.store.FriendshipState(ctx, c.UserID, env.Receiver); err == nil && ok &&
				state == identity.FriendBlocked {
				return errs.ErrBlocked.WrapMsg("", "receiver", env.Receiver)
			}
			return errs.ErrNotFriend.WrapMsg("", "receiver", env.Receiver)
		}
	case msg.TargetGroup:
		if _, ok := c.cache.Group(env.Receiver); !ok {
			return errs.ErrNotMember.WrapMsg("", "group", env.Receiver)
		}
	default:
		return errs.ErrBadTarget.WrapMsg("", "t_type", int(env.Target))
	}
	return nil
}

// HandleDelivery 入站（broker -> 本连接）：
// 先打本地缓存补丁，再交给 ack 管理器送往客户端。
func (r *Router) HandleDelivery(ctx context.Context, c *Conn, raw []byte) {
	env, err := msg.Parse(raw)
	if err != nil {
		logger.Warnf("[router] malformed delivery user=%d err=%v", c.UserID, err)
		return
	}

	r.applyCachePatch(c, env)

	c.acks.Track(env.MessageID,
		func() error { return c.Enqueue(raw) },
		func() {
			logger.Warnf("[router] delivery abandoned id=%d user=%d session=%s",
				env.MessageID, c.UserID, c.SessionID)
		},
	)
}

// fanout 每个 receiver 一次发布，外加发送方自己的地址（多端收敛，不做单独 echo 机制）
func (r *Router) fanout(ctx context.Context, env *msg.Envelope, receivers []msg.UserID, sender msg.UserID) {
	data, err := env.Encode()
	if err != nil {
		logger.Errorf("[router] encode envelope id=%d err=%v", env.MessageID, err)
		return
	}
	seen := make(map[msg.UserID]struct{}, len(receivers)+1)
	targets := append(receivers, sender)
	for _, uid := range targets {
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}
		if err := r.fabric.Publish(ctx, natsx.UserTopic(itoa(uid)), data); err != nil {
			logger.Errorf("[router] publish user=%d id=%d err=%v", uid, env.MessageID, err)
		}
	}
}

// publishStorage 发一份到永久存储 topic。按 receiver 分 key 保序。
func (r *Router) publishStorage(env *msg.Envelope) {
	if r.sink == nil {
		return
	}
	data, err := env.Encode()
	if err != nil {
		logger.Errorf("[router] encode for storage id=%d err=%v", env.MessageID, err)
		return
	}
	if err := r.sink.Publish(itoa(env.Receiver), data); err != nil {
		logger.Errorf("[router] storage publish id=%d err=%v", env.MessageID, err)
	}
}

// replyError 错误只回发送方本人：复用原 envelope，打 t_type=error，不过 fabric
func (r *Router) replyError(c *Conn, env *msg.Envelope, err error) {
	errEnv := msg.NewErrorEnvelope(env, err)
	data, merr := errEnv.Encode()
	if merr != nil {
		logger.Errorf("[router] encode error envelope err=%v", merr)
		return
	}
	_ = c.Enqueue(data)
}

// sendSubmitAck 回执客户端的提交：tmp_id -> 分配的 message_id
func (r *Router) sendSubmitAck(c *Conn, id msg.MessageID, tmpID string) {
	data, err := jsonMarshal(msg.NewAckFrame(id, tmpID))
	if err != nil {
		return
	}
	_ = c.Enqueue(data)
}

// applyCachePatch 投递携带的关系变化打进本连接缓存，
// 不用每条消息都回表查协作方，最终一致。
func (r *Router) applyCachePatch(c *Conn, env *msg.Envelope) {
	switch env.Kind {
	case msg.AcceptFriend:
		// 双方任一端收到都补上对端
		if env.Sender == c.UserID {
			c.cache.AddFriend(env.Receiver)
		} else {
			c.cache.AddFriend(env.Sender)
		}
	case msg.BlockFriend, msg.DeleteFriend, msg.RejectFriend:
		if env.Sender == c.UserID {
			c.cache.RemoveFriend(env.Receiver)
		} else {
			c.cache.RemoveFriend(env.Sender)
		}
	case msg.CreateGroup, msg.AddGroupMember, msg.ChangeGroupOwner,
		msg.AddGroupAdmin, msg.RemoveGroupAdmin, msg.PinMessage, msg.UnpinMessage:
		// 控制消息带权威群快照，整份覆盖
		if g, err := msg.DecodeContent[identity.GroupInfo](env.Content); err == nil && g.ID != 0 {
			c.cache.PutGroup(g)
		}
	case msg.RemoveGroupMember:
		if removed, err := msg.DecodeContent[removedMemberContent](env.Content); err == nil {
			c.cache.RemoveGroupMember(env.Receiver, removed.UserID, c.UserID)
		}
	case msg.LeaveGroup:
		c.cache.RemoveGroupMember(env.Receiver, env.Sender, c.UserID)
	case msg.DeleteGroup:
		c.cache.DropGroup(env.Receiver)
	}
}
