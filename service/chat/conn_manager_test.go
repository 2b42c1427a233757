package chat

import (
	"testing"
	"time"
)

func newManagerForTest(t *testing.T, conf ManagerConf) *ConnManager {
	t.Helper()
	if conf.SweepEvery == 0 {
		conf.SweepEvery = time.Hour // 测试里手动扫
	}
	m := NewConnManagerWithConf(conf, "gw-test")
	t.Cleanup(m.Close)
	return m
}

func TestManagerIndexesBySessionAndUser(t *testing.T) {
	r := newTestRouter(newFakeStore(), newFakeFabric(), &fakeSink{})
	m := newManagerForTest(t, ManagerConf{})

	c1 := NewConn(r, 1, "s1")
	c2 := NewConn(r, 1, "s2")
	if err := m.Add(c1); err != nil {
		t.Fatalf("add c1: %v", err)
	}
	if err := m.Add(c2); err != nil {
		t.Fatalf("add c2: %v", err)
	}

	if got, ok := m.Get("s1"); !ok || got != c1 {
		t.Fatalf("Get(s1) mismatch")
	}
	if conns := m.UserConns(1); len(conns) != 2 {
		t.Fatalf("user 1 conns = %d, want 2 (one per session)", len(conns))
	}

	m.Remove("s1")
	if _, ok := m.Get("s1"); ok {
		t.Fatalf("s1 still indexed after remove")
	}
	if c1.State() != StateClosed {
		t.Fatalf("removed conn must be closed, state=%v", c1.State())
	}
	if conns := m.UserConns(1); len(conns) != 1 {
		t.Fatalf("user index not maintained: %d", len(conns))
	}
}

func TestManagerSameSessionReconnectEvictsOld(t *testing.T) {
	r := newTestRouter(newFakeStore(), newFakeFabric(), &fakeSink{})
	m := newManagerForTest(t, ManagerConf{})

	old := NewConn(r, 1, "s1")
	_ = m.Add(old)
	fresh := NewConn(r, 1, "s1")
	if err := m.Add(fresh); err != nil {
		t.Fatalf("reconnect add: %v", err)
	}

	if got, _ := m.Get("s1"); got != fresh {
		t.Fatalf("reconnect must replace the indexed conn")
	}
	if old.State() != StateClosed {
		t.Fatalf("old conn must be evicted and closed")
	}
}

func TestManagerMaxPerUser(t *testing.T) {
	r := newTestRouter(newFakeStore(), newFakeFabric(), &fakeSink{})

	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	m := newManagerForTest(t, ManagerConf{MaxPerUser: 1, EvictOldest: true, Clock: clock})

	first := NewConn(r, 1, "s1")
	_ = m.Add(first)
	now = now.Add(time.Second)
	second := NewConn(r, 1, "s2")
	if err := m.Add(second); err != nil {
		t.Fatalf("add within limit with eviction: %v", err)
	}
	if first.State() != StateClosed {
		t.Fatalf("oldest conn must be evicted")
	}
	if m.Len() != 1 {
		t.Fatalf("len = %d, want 1", m.Len())
	}

	// 不淘汰模式直接报错
	strict := newManagerForTest(t, ManagerConf{MaxPerUser: 1})
	_ = strict.Add(NewConn(r, 2, "a"))
	if err := strict.Add(NewConn(r, 2, "b")); err == nil {
		t.Fatalf("over-limit add without eviction must fail")
	}
}

func TestManagerSweepExpiresIdleConns(t *testing.T) {
	r := newTestRouter(newFakeStore(), newFakeFabric(), &fakeSink{})

	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	m := newManagerForTest(t, ManagerConf{TTL: time.Minute, Clock: clock})

	c := NewConn(r, 1, "s1")
	_ = m.Add(c)

	m.sweepOnce(now.Add(30 * time.Second))
	if _, ok := m.Get("s1"); !ok {
		t.Fatalf("conn expired too early")
	}

	// 心跳续期后再过原 TTL 也不掉
	now = now.Add(50 * time.Second)
	if err := m.Heartbeat("s1"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	m.sweepOnce(now.Add(59 * time.Second))
	if _, ok := m.Get("s1"); !ok {
		t.Fatalf("heartbeat did not extend the TTL")
	}

	m.sweepOnce(now.Add(2 * time.Minute))
	if _, ok := m.Get("s1"); ok {
		t.Fatalf("idle conn survived the sweep")
	}
	if c.State() != StateClosed {
		t.Fatalf("swept conn must be closed")
	}
}
