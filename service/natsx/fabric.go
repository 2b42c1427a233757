package natsx

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"telethu/logger"
)

// Topic Fabric：每个用户一个 fan-out 地址 "user_<id>"。
// 每个存活 session 独立订阅一次，各拿一份拷贝；同一地址内保持发布顺序。
// 群消息不走群地址，按成员逐个发到成员的用户地址。

// UserTopic 用户的 fan-out 地址
func UserTopic(userID string) string { return "user_" + userID }

// Fabric 路由器依赖的最小能力集
type Fabric interface {
	// Publish 发布到命名地址，地址首次使用时隐式创建
	Publish(ctx context.Context, topic string, data []byte) error
	// Subscribe 以 session 维度订阅一个地址，每个订阅独立收一份
	Subscribe(topic, sessionID string, cb func(data []byte)) (Subscription, error)
}

type Subscription interface {
	Unsubscribe() error
}

// Config 客户端配置
type Config struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

type Client struct {
	cfg Config
	nc  *nats.Conn

	mu   sync.Mutex
	subs map[string]*nats.Subscription // sessionID -> sub
}

// NewClient 连接 NATS
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnf("[natsx] disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("[natsx] reconnected to %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:  cfg,
		nc:   nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

func (c *Client) Publish(ctx context.Context, topic string, data []byte) error {
	_ = ctx
	return c.nc.Publish(topic, data)
}

func (c *Client) Subscribe(topic, sessionID string, cb func(data []byte)) (Subscription, error) {
	if topic == "" || sessionID == "" {
		return nil, errors.New("invalid subscription")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// 同一 session 重复订阅（重连抢跑）先拆旧的，保证幂等
	if old, ok := c.subs[sessionID]; ok {
		_ = old.Unsubscribe()
		delete(c.subs, sessionID)
	}

	sub, err := c.nc.Subscribe(topic, func(m *nats.Msg) {
		cb(m.Data)
	})
	if err != nil {
		return nil, err
	}
	c.subs[sessionID] = sub
	return &clientSub{c: c, sessionID: sessionID, sub: sub}, nil
}

// Close 优雅关闭
func (c *Client) Close() error {
	c.mu.Lock()
	for sid, sub := range c.subs {
		_ = sub.Unsubscribe()
		delete(c.subs, sid)
	}
	c.mu.Unlock()
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

type clientSub struct {
	c         *Client
	sessionID string
	sub       *nats.Subscription
}

func (s *clientSub) Unsubscribe() error {
	s.c.mu.Lock()
	delete(s.c.subs, s.sessionID)
	s.c.mu.Unlock()
	return s.sub.Unsubscribe()
}
