package chat

import (
	"sync"
	"time"

	"telethu/logger"
	msg "telethu/module/message"
)

// AckState 投递义务的状态机
type AckState int32

const (
	AckPending AckState = iota
	AckAcknowledging
	AckRetryPending
	AckRetryExhausted
	AckDone
)

// ackRecord 一条在途投递。锁在记录级别，互不阻塞。
type ackRecord struct {
	mu        sync.Mutex
	state     AckState
	remaining int // 剩余重投次数
	timer     *time.Timer
	deliver   func() error
	giveUp    func()
}

// AckManager 跟踪发往一条连接的在途投递：先投一次，超时重投，
// 客户端 ack 或重试额度耗尽为止。生命周期随连接，不落盘。
type AckManager struct {
	mu      sync.RWMutex
	records map[msg.MessageID]*ackRecord
	closed  bool

	timeout     time.Duration
	maxAttempts int // 总投递次数上限（1 次首投 + maxAttempts-1 次重投）
}

func NewAckManager(timeout time.Duration, maxAttempts int) *AckManager {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &AckManager{
		records:     make(map[msg.MessageID]*ackRecord),
		timeout:     timeout,
		maxAttempts: maxAttempts,
	}
}

// Track 注册一条投递义务：立刻投一次，然后挂一次性定时器。
// 非阻塞，调用方不等 ack。同一 message_id 重复 Track 是无效操作。
func (m *AckManager) Track(id msg.MessageID, deliver func() error, giveUp func()) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if _, ok := m.records[id]; ok {
		m.mu.Unlock()
		return
	}
	rec := &ackRecord{
		state:     AckPending,
		remaining: m.maxAttempts - 1,
		deliver:   deliver,
		giveUp:    giveUp,
	}
	m.records[id] = rec
	m.mu.Unlock()

	if err := deliver(); err != nil {
		logger.Warnf("[ack] first delivery failed id=%d err=%v", id, err)
	}
	rec.mu.Lock()
	rec.timer = time.AfterFunc(m.timeout, func() { m.onTimeout(id) })
	rec.mu.Unlock()
}

func (m *AckManager) onTimeout(id msg.MessageID) {
	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return
	}

	rec.mu.Lock()
	if rec.state != AckPending {
		rec.mu.Unlock()
		return
	}
	if rec.remaining <= 0 {
		rec.state = AckRetryExhausted
		giveUp := rec.giveUp
		rec.mu.Unlock()
		m.drop(id)
		// 放弃回调只调一次，锁外跑避免回调里再摸 manager 死锁
		go func() {
			if giveUp != nil {
				giveUp()
			}
		}()
		return
	}
	rec.state = AckRetryPending
	rec.remaining--
	deliver := rec.deliver
	rec.mu.Unlock()

	// 重投放锁外：Enqueue 可能在发送队列满时阻塞，不能压住这条记录的 ack
	if err := deliver(); err != nil {
		logger.Warnf("[ack] redelivery failed id=%d err=%v", id, err)
	}

	rec.mu.Lock()
	// 重投途中被 ack 或连接关闭就不再挂表
	if rec.state == AckRetryPending {
		rec.state = AckPending
		rec.timer = time.AfterFunc(m.timeout, func() { m.onTimeout(id) })
	}
	rec.mu.Unlock()
}

// Acknowledge 客户端确认。幂等：不存在或已终态返回 false。
// 确认即出表，记录不随连接生命周期堆积。
func (m *AckManager) Acknowledge(id msg.MessageID) bool {
	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	rec.mu.Lock()
	if rec.state != AckPending && rec.state != AckRetryPending {
		rec.mu.Unlock()
		return false
	}
	rec.state = AckAcknowledging
	if rec.timer != nil {
		rec.timer.Stop()
	}
	rec.state = AckDone
	rec.mu.Unlock()
	m.drop(id)
	return true
}

func (m *AckManager) drop(id msg.MessageID) {
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
}

// StateOf 查询状态（测试用）
func (m *AckManager) StateOf(id msg.MessageID) (AckState, bool) {
	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return 0, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state, true
}

// Close 连接关闭时取消所有定时器；未 ack 的记录直接作废。
func (m *AckManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, rec := range m.records {
		rec.mu.Lock()
		if rec.timer != nil {
			rec.timer.Stop()
		}
		if rec.state == AckPending || rec.state == AckRetryPending {
			rec.state = AckRetryExhausted
		}
		rec.mu.Unlock()
		delete(m.records, id)
	}
}
