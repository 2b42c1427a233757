package chat

import (
	"errors"
	"sync"
	"time"

	"telethu/logger"
	msg "telethu/module/message"
)

// ===== 配置 =====

type ManagerConf struct {
	TTL         time.Duration    // 连接 TTL，心跳续期（如 2h）
	SweepEvery  time.Duration    // 清理周期（如 30s）
	MaxPerUser  int              // 每用户最大连接数（<=0 不限制）
	EvictOldest bool             // 超限时淘汰最老连接，否则 Add 直接报错
	Clock       func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 30 * time.Second
	}
	if c.TTL <= 0 {
		c.TTL = 2 * time.Hour
	}
}

// managedConn 索引里的一条连接和它的存活账本
type managedConn struct {
	conn *Conn

	CreatedAt time.Time
	ExpireAt  time.Time // 过期由 sweeper 回收
	Heartbeat time.Time
}

// ConnManager 网关节点上全部存活连接的索引。
// 主索引按 session，辅助索引按用户（同一用户多端各占一条）。
type ConnManager struct {
	mu        sync.RWMutex
	bySession map[string]*managedConn                // sessionID -> conn
	byUser    map[msg.UserID]map[string]*managedConn // userID -> (sessionID -> conn)

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
	gwID     string // 节点 ID
}

// ===== 构造/关闭 =====

func NewConnManager(gwID string) *ConnManager {
	return NewConnManagerWithConf(ManagerConf{}, gwID)
}

func NewConnManagerWithConf(conf ManagerConf, gwID string) *ConnManager {
	conf.norm()
	m := &ConnManager{
		bySession: make(map[string]*managedConn),
		byUser:    make(map[msg.UserID]map[string]*managedConn),
		conf:      conf,
		gwID:      gwID,
		stopCh:    make(chan struct{}),
	}
	go m.sweeper()
	return m
}

func (m *ConnManager) GwID() string { return m.gwID }

func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.bySession))
	for _, w := range m.bySession {
		conns = append(conns, w.conn)
	}
	m.bySession = map[string]*managedConn{}
	m.byUser = map[msg.UserID]map[string]*managedConn{}
	m.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// ===== 登记/注销 =====

// Add 登记一条完成握手的连接；同 session 重复登记先踢旧的（重连抢跑）
func (m *ConnManager) Add(c *Conn) error {
	if c == nil || c.SessionID == "" {
		return errors.New("conn/session empty")
	}
	now := m.conf.Clock()

	var evicted []*Conn
	m.mu.Lock()
	if old, ok := m.bySession[c.SessionID]; ok {
		m.dropLocked(old)
		evicted = append(evicted, old.conn)
	}
	if m.conf.MaxPerUser > 0 {
		mm := m.byUser[c.UserID]
		if len(mm) >= m.conf.MaxPerUser {
			if !m.conf.EvictOldest {
				m.mu.Unlock()
				return errors.New("too many connections for user")
			}
			var oldest *managedConn
			for _, w := range mm {
				if oldest == nil || w.CreatedAt.Before(oldest.CreatedAt) {
					oldest = w
				}
			}
			if oldest != nil {
				m.dropLocked(oldest)
				evicted = append(evicted, oldest.conn)
			}
		}
	}
	w := &managedConn{
		conn:      c,
		CreatedAt: now,
		ExpireAt:  now.Add(m.conf.TTL),
		Heartbeat: now,
	}
	m.bySession[c.SessionID] = w
	if m.byUser[c.UserID] == nil {
		m.byUser[c.UserID] = make(map[string]*managedConn)
	}
	m.byUser[c.UserID][c.SessionID] = w
	m.mu.Unlock()

	for _, old := range evicted {
		logger.Warnf("[connmgr] evict user=%d session=%s", old.UserID, old.SessionID)
		old.Close()
	}
	return nil
}

// Remove 注销并关闭指定 session 的连接
func (m *ConnManager) Remove(sessionID string) {
	m.mu.Lock()
	w, ok := m.bySession[sessionID]
	if ok {
		m.dropLocked(w)
	}
	m.mu.Unlock()
	if ok {
		w.conn.Close()
	}
}

// Get 按 session 取连接
func (m *ConnManager) Get(sessionID string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.bySession[sessionID]
	if !ok {
		return nil, false
	}
	return w.conn, true
}

// UserConns 某用户在本节点的所有连接
func (m *ConnManager) UserConns(user msg.UserID) []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Conn
	for _, w := range m.byUser[user] {
		out = append(out, w.conn)
	}
	return out
}

// Len 当前存活连接数
func (m *ConnManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySession)
}

// Heartbeat 刷新心跳与到期时间
func (m *ConnManager) Heartbeat(sessionID string) error {
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.bySession[sessionID]
	if !ok {
		return errors.New("session not found")
	}
	w.Heartbeat = now
	w.ExpireAt = now.Add(m.conf.TTL)
	return nil
}

// 持锁调用：只摘索引，关闭放到锁外
func (m *ConnManager) dropLocked(w *managedConn) {
	delete(m.bySession, w.conn.SessionID)
	if mm := m.byUser[w.conn.UserID]; mm != nil {
		delete(mm, w.conn.SessionID)
		if len(mm) == 0 {
			delete(m.byUser, w.conn.UserID)
		}
	}
}

// ===== 清理协程 =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-t.C:
			m.sweepOnce(now)
		}
	}
}

func (m *ConnManager) sweepOnce(now time.Time) {
	var expired []*managedConn

	m.mu.Lock()
	for _, w := range m.bySession {
		if now.After(w.ExpireAt) {
			// 收集后统一关闭，避免持锁期间关 socket
			expired = append(expired, w)
			m.dropLocked(w)
		}
	}
	m.mu.Unlock()

	for _, w := range expired {
		logger.Infof("[connmgr] expire user=%d session=%s", w.conn.UserID, w.conn.SessionID)
		w.conn.Close()
	}
}
