package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"telethu/module/identity"
	msg "telethu/module/message"
	"telethu/service/natsx"
)

// ===== 测试替身 =====

type fakeFabric struct {
	mu       sync.Mutex
	messages map[string][][]byte // topic -> frames
}

func newFakeFabric() *fakeFabric {
	return &fakeFabric{messages: make(map[string][][]byte)}
}

func (f *fakeFabric) Publish(_ context.Context, topic string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.messages[topic] = append(f.messages[topic], cp)
	return nil
}

func (f *fakeFabric) Subscribe(string, string, func([]byte)) (natsx.Subscription, error) {
	return nil, fmt.Errorf("not used in tests")
}

func (f *fakeFabric) count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[topic])
}

func (f *fakeFabric) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, frames := range f.messages {
		n += len(frames)
	}
	return n
}

type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *fakeSink) Publish(_ string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type fakeFriendship struct {
	state     identity.FriendState
	initiator msg.UserID
}

// fakeStore 只实现用到的方法，其余走内嵌接口直接 panic 暴露误用
type fakeStore struct {
	identity.Store

	mu          sync.Mutex
	friendships map[string]fakeFriendship
	records     map[msg.MessageID]*identity.MessageRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		friendships: make(map[string]fakeFriendship),
		records:     make(map[msg.MessageID]*identity.MessageRecord),
	}
}

func pairKey(a, b msg.UserID) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

func (s *fakeStore) FriendshipState(_ context.Context, a, b msg.UserID) (identity.FriendState, msg.UserID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.friendships[pairKey(a, b)]
	return f.state, f.initiator, ok, nil
}

func (s *fakeStore) MutateFriendship(_ context.Context, acting, other msg.UserID, state identity.FriendState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friendships[pairKey(acting, other)] = fakeFriendship{state: state, initiator: acting}
	return nil
}

func (s *fakeStore) GetMessage(_ context.Context, id msg.MessageID) (*identity.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("record %d not found", id)
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) SetMessageStatus(_ context.Context, id msg.MessageID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("record %d not found", id)
	}
	rec.Status = status
	return nil
}

func (s *fakeStore) UsersMeta(_ context.Context, ids []msg.UserID) ([]msg.UserData, error) {
	out := make([]msg.UserData, 0, len(ids))
	for _, id := range ids {
		out = append(out, msg.UserData{ID: id, Name: fmt.Sprintf("u%d", id), Category: "user"})
	}
	return out, nil
}

// ===== 组装 =====

func newTestRouter(store identity.Store, fabric natsx.Fabric, sink StorageSink) *Router {
	return NewRouter(store, fabric, sink, nil, RouterConfig{
		AckTimeout:     time.Minute, // 测试里不靠真超时
		AckMaxAttempts: 3,
		RecallWindow:   2 * time.Minute,
	})
}

func newTestConn(t *testing.T, r *Router, user msg.UserID) *Conn {
	t.Helper()
	c := NewConn(r, user, fmt.Sprintf("sess-%d", user))
	t.Cleanup(func() { c.acks.Close() })
	return c
}

// drainSend 取出连接发送队列里积压的帧
func drainSend(c *Conn) [][]byte {
	var out [][]byte
	for {
		select {
		case f := <-c.Send():
			out = append(out, f)
		default:
			return out
		}
	}
}

func frameOf(t *testing.T, raw []byte) *msg.Envelope {
	t.Helper()
	env, err := msg.Parse(raw)
	if err != nil {
		t.Fatalf("parse frame: %v", err)
	}
	return env
}

// ===== 客户端帧路径 =====

func TestTextToFriendFansOutAndStores(t *testing.T) {
	fabric := newFakeFabric()
	sink := &fakeSink{}
	r := newTestRouter(newFakeStore(), fabric, sink)

	c := newTestConn(t, r, 1)
	c.cache.LoadFriends([]msg.UserID{2})

	raw := []byte(`{"m_type": 0, "t_type": 0, "content": "hello", "receiver": 2, "tmp_id": "t1"}`)
	r.HandleClientFrame(context.Background(), c, raw)

	// 接收方一份 + 发送方 echo 一份
	if fabric.count("user_2") != 1 || fabric.count("user_1") != 1 {
		t.Fatalf("fanout user_2=%d user_1=%d, want 1/1", fabric.count("user_2"), fabric.count("user_1"))
	}
	if sink.count() != 1 {
		t.Fatalf("storage publishes = %d, want 1", sink.count())
	}

	// 提交回执带 tmp_id 关联
	frames := drainSend(c)
	if len(frames) != 1 {
		t.Fatalf("send queue frames = %d, want 1 submit ack", len(frames))
	}
	var ack msg.AckFrame
	if err := json.Unmarshal(frames[0], &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Reference != "t1" || ack.MessageID == 0 {
		t.Fatalf("unexpected submit ack: %+v", ack)
	}
}

func TestTmpIDResubmission(t *testing.T) {
	fabric := newFakeFabric()
	sink := &fakeSink{}
	r := newTestRouter(newFakeStore(), fabric, sink)

	c := newTestConn(t, r, 1)
	c.cache.LoadFriends([]msg.UserID{2})

	raw := []byte(`{"m_type": 0, "t_type": 0, "content": "hello", "receiver": 2, "tmp_id": "t1"}`)
	r.HandleClientFrame(context.Background(), c, raw)
	first := drainSend(c)

	// 同一 tmp_id 重发：不再发布也不再落库，只按原 message_id 再回执一次
	r.HandleClientFrame(context.Background(), c, raw)
	second := drainSend(c)

	if fabric.total() != 2 || sink.count() != 1 {
		t.Fatalf("resubmission must not re-publish: fabric=%d sink=%d", fabric.total(), sink.count())
	}
	var a1, a2 msg.AckFrame
	_ = json.Unmarshal(first[0], &a1)
	if len(second) != 1 {
		t.Fatalf("resubmission frames = %d, want 1", len(second))
	}
	_ = json.Unmarshal(second[0], &a2)
	if a1.MessageID != a2.MessageID {
		t.Fatalf("resubmission must reuse message_id: %d vs %d", a1.MessageID, a2.MessageID)
	}
}

func TestNonFriendIsRejectedBeforeStorage(t *testing.T) {
	fabric := newFakeFabric()
	sink := &fakeSink{}
	r := newTestRouter(newFakeStore(), fabric, sink)

	c := newTestConn(t, r, 1) // 空好友表

	raw := []byte(`{"m_type": 0, "t_type": 0, "content": "hello", "receiver": 2}`)
	r.HandleClientFrame(context.Background(), c, raw)

	if fabric.total() != 0 || sink.count() != 0 {
		t.Fatalf("rejected frame must not reach fabric or storage: fabric=%d sink=%d", fabric.total(), sink.count())
	}
	frames := drainSend(c)
	if len(frames) != 1 {
		t.Fatalf("sender should get exactly one error frame, got %d", len(frames))
	}
	env := frameOf(t, frames[0])
	if env.Target != msg.TargetError {
		t.Fatalf("t_type = %v, want error marker", env.Target)
	}
}

func TestBlockedReceiverGetsBlockedCode(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store, newFakeFabric(), &fakeSink{})
	c := newTestConn(t, r, 1)

	// 拉黑态和陌生人要分开报：1102 对 1101
	if err := store.MutateFriendship(context.Background(), 2, 1, identity.FriendBlocked); err != nil {
		t.Fatalf("seed friendship: %v", err)
	}

	r.HandleClientFrame(context.Background(), c, []byte(`{"m_type": 0, "t_type": 0, "content": "hi", "receiver": 2}`))
	env := frameOf(t, drainSend(c)[0])
	blocked, err := msg.DecodeContent[msg.ErrorContent](env.Content)
	if err != nil {
		t.Fatalf("decode error content: %v", err)
	}
	if blocked.Code != 1102 {
		t.Fatalf("blocked receiver code = %d, want 1102", blocked.Code)
	}

	r.HandleClientFrame(context.Background(), c, []byte(`{"m_type": 0, "t_type": 0, "content": "hi", "receiver": 3}`))
	env = frameOf(t, drainSend(c)[0])
	stranger, err := msg.DecodeContent[msg.ErrorContent](env.Content)
	if err != nil {
		t.Fatalf("decode error content: %v", err)
	}
	if stranger.Code != 1101 {
		t.Fatalf("stranger code = %d, want 1101", stranger.Code)
	}
}

func TestGroupSendRequiresMembership(t *testing.T) {
	fabric := newFakeFabric()
	sink := &fakeSink{}
	r := newTestRouter(newFakeStore(), fabric, sink)

	c := newTestConn(t, r, 1)
	raw := []byte(`{"m_type": 0, "t_type": 1, "content": "hi all", "receiver": 100}`)
	r.HandleClientFrame(context.Background(), c, raw)

	if fabric.total() != 0 || sink.count() != 0 {
		t.Fatalf("non-member group send leaked: fabric=%d sink=%d", fabric.total(), sink.count())
	}
	env := frameOf(t, drainSend(c)[0])
	if env.Target != msg.TargetError {
		t.Fatalf("t_type = %v, want error marker", env.Target)
	}
}

func TestGroupSendDeliversToEachMember(t *testing.T) {
	fabric := newFakeFabric()
	r := newTestRouter(newFakeStore(), fabric, &fakeSink{})

	c := newTestConn(t, r, 1)
	c.cache.PutGroup(&identity.GroupInfo{ID: 100, Owner: 1, Members: []msg.UserID{1, 2, 3}})

	raw := []byte(`{"m_type": 0, "t_type": 1, "content": "hi all", "receiver": 100}`)
	r.HandleClientFrame(context.Background(), c, raw)

	// 群不占地址，成员逐个投；发送方在成员表里，不再重复 echo
	for _, uid := range []int64{1, 2, 3} {
		if fabric.count(fmt.Sprintf("user_%d", uid)) != 1 {
			t.Fatalf("member %d did not get exactly one copy", uid)
		}
	}
	if fabric.total() != 3 {
		t.Fatalf("total publishes = %d, want 3", fabric.total())
	}
}

func TestMalformedAndUnknownFramesAreIgnored(t *testing.T) {
	fabric := newFakeFabric()
	sink := &fakeSink{}
	r := newTestRouter(newFakeStore(), fabric, sink)
	c := newTestConn(t, r, 1)

	r.HandleClientFrame(context.Background(), c, []byte(`{not json`))
	r.HandleClientFrame(context.Background(), c, []byte(`{"m_type": 99, "t_type": 0, "receiver": 2}`))

	if fabric.total() != 0 || sink.count() != 0 || len(drainSend(c)) != 0 {
		t.Fatalf("protocol errors must be log-and-ignore")
	}
}

// ===== 投递路径 =====

func TestDeliveryTrackedUntilAck(t *testing.T) {
	r := newTestRouter(newFakeStore(), newFakeFabric(), &fakeSink{})
	c := newTestConn(t, r, 2)

	env := &msg.Envelope{MessageID: 555, Kind: msg.Text, Target: msg.TargetFriend, Sender: 1, Receiver: 2, Content: "hi"}
	raw, _ := env.Encode()
	r.HandleDelivery(context.Background(), c, raw)

	// 投递进了发送队列
	if frames := drainSend(c); len(frames) != 1 {
		t.Fatalf("delivery frames = %d, want 1", len(frames))
	}
	if st, ok := c.acks.StateOf(555); !ok || st != AckPending {
		t.Fatalf("delivery must be tracked, state=%v ok=%v", st, ok)
	}

	// 客户端回执走同一条帧入口，确认后义务即解除
	r.HandleClientFrame(context.Background(), c, []byte(`{"message_id": 555}`))
	if _, ok := c.acks.StateOf(555); ok {
		t.Fatalf("acked delivery must be released")
	}
}

func TestDeliveryPatchesFriendCache(t *testing.T) {
	r := newTestRouter(newFakeStore(), newFakeFabric(), &fakeSink{})
	c := newTestConn(t, r, 2)

	env := &msg.Envelope{MessageID: 556, Kind: msg.AcceptFriend, Target: msg.TargetFriend, Sender: 1, Receiver: 2}
	raw, _ := env.Encode()
	r.HandleDelivery(context.Background(), c, raw)

	if !c.cache.IsFriend(1) {
		t.Fatalf("accept-friend delivery must patch the friend set")
	}

	env = &msg.Envelope{MessageID: 557, Kind: msg.DeleteFriend, Target: msg.TargetFriend, Sender: 1, Receiver: 2}
	raw, _ = env.Encode()
	r.HandleDelivery(context.Background(), c, raw)
	if c.cache.IsFriend(1) {
		t.Fatalf("delete-friend delivery must drop the friend")
	}
}

func TestDeliveryPatchesGroupCache(t *testing.T) {
	r := newTestRouter(newFakeStore(), newFakeFabric(), &fakeSink{})
	c := newTestConn(t, r, 2)

	g := &identity.GroupInfo{ID: 300, Name: "study", Owner: 1, Members: []msg.UserID{1, 2}}
	env := &msg.Envelope{MessageID: 558, Kind: msg.CreateGroup, Target: msg.TargetGroup, Sender: 1, Receiver: 300, Content: g}
	raw, _ := env.Encode()
	r.HandleDelivery(context.Background(), c, raw)

	members, ok := c.cache.GroupMembers(300)
	if !ok || len(members) != 2 {
		t.Fatalf("create-group delivery must install the group snapshot: %v ok=%v", members, ok)
	}

	env = &msg.Envelope{MessageID: 559, Kind: msg.DeleteGroup, Target: msg.TargetGroup, Sender: 1, Receiver: 300}
	raw, _ = env.Encode()
	r.HandleDelivery(context.Background(), c, raw)
	if _, ok := c.cache.Group(300); ok {
		t.Fatalf("delete-group delivery must drop the group")
	}
}

// ===== 控制消息与消息记录 =====

func TestRecallWindowEnforced(t *testing.T) {
	store := newFakeStore()
	fabric := newFakeFabric()
	r := newTestRouter(store, fabric, &fakeSink{})
	c := newTestConn(t, r, 1)
	c.cache.LoadFriends([]msg.UserID{2})

	now := time.Now().UnixMilli()
	store.records[900] = &identity.MessageRecord{
		MessageID: 900, Kind: msg.Text, Target: msg.TargetFriend,
		Sender: 1, Receiver: 2, Time: now - (3 * time.Minute).Milliseconds(),
	}
	store.records[901] = &identity.MessageRecord{
		MessageID: 901, Kind: msg.Text, Target: msg.TargetFriend,
		Sender: 1, Receiver: 2, Time: now,
	}

	// 窗口外：拒绝
	raw := []byte(`{"m_type": 26, "t_type": 0, "content": 900, "receiver": 2}`)
	r.HandleClientFrame(context.Background(), c, raw)
	env := frameOf(t, drainSend(c)[0])
	if env.Target != msg.TargetError {
		t.Fatalf("stale recall must be rejected")
	}
	if store.records[900].Status != "" {
		t.Fatalf("rejected recall must not touch the record")
	}

	// 窗口内：通过，原发送集合收到撤回通知
	raw = []byte(`{"m_type": 26, "t_type": 0, "content": 901, "receiver": 2}`)
	r.HandleClientFrame(context.Background(), c, raw)
	if store.records[901].Status != "recalled" {
		t.Fatalf("record status = %q, want recalled", store.records[901].Status)
	}
	if fabric.count("user_2") != 1 || fabric.count("user_1") != 1 {
		t.Fatalf("recall notice fanout user_2=%d user_1=%d", fabric.count("user_2"), fabric.count("user_1"))
	}
}

func TestRecallKeepsFullIDPrecision(t *testing.T) {
	store := newFakeStore()
	fabric := newFakeFabric()
	r := newTestRouter(store, fabric, &fakeSink{})
	c := newTestConn(t, r, 1)
	c.cache.LoadFriends([]msg.UserID{2})

	// 低位非零的雪花 id，float64 表示不了
	const id msg.MessageID = 484061648852619268
	store.records[id] = &identity.MessageRecord{
		MessageID: id, Kind: msg.Text, Target: msg.TargetFriend,
		Sender: 1, Receiver: 2, Time: time.Now().UnixMilli(),
	}
	raw := []byte(`{"m_type": 26, "t_type": 0, "content": 484061648852619268, "receiver": 2}`)
	r.HandleClientFrame(context.Background(), c, raw)

	if store.records[id].Status != "recalled" {
		t.Fatalf("record status = %q, want recalled", store.records[id].Status)
	}
	if got := drainSend(c); len(got) != 0 {
		t.Fatalf("recall by exact id must not error, got %d frames", len(got))
	}
}

func TestRecallOnlyOwnMessages(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store, newFakeFabric(), &fakeSink{})
	c := newTestConn(t, r, 1)
	c.cache.LoadFriends([]msg.UserID{2})

	store.records[910] = &identity.MessageRecord{
		MessageID: 910, Kind: msg.Text, Target: msg.TargetFriend,
		Sender: 2, Receiver: 1, Time: time.Now().UnixMilli(),
	}
	raw := []byte(`{"m_type": 26, "t_type": 0, "content": 910, "receiver": 2}`)
	r.HandleClientFrame(context.Background(), c, raw)
	env := frameOf(t, drainSend(c)[0])
	if env.Target != msg.TargetError {
		t.Fatalf("recalling someone else's message must fail")
	}
}

func TestApplyAcceptFriendFlow(t *testing.T) {
	store := newFakeStore()
	fabric := newFakeFabric()
	r := newTestRouter(store, fabric, &fakeSink{})

	alice := newTestConn(t, r, 1)
	raw := []byte(`{"m_type": 11, "t_type": 0, "receiver": 2}`)
	r.HandleClientFrame(context.Background(), alice, raw)
	if fabric.count("user_2") != 1 {
		t.Fatalf("apply must be delivered to the target")
	}

	// 重复申请被拒
	r.HandleClientFrame(context.Background(), alice, raw)
	env := frameOf(t, drainSend(alice)[0])
	if env.Target != msg.TargetError {
		t.Fatalf("duplicate apply must be rejected")
	}

	// 对端接受后，门立即放行内容消息
	bob := newTestConn(t, r, 2)
	r.HandleClientFrame(context.Background(), bob, []byte(`{"m_type": 12, "t_type": 0, "receiver": 1}`))
	if !bob.cache.IsFriend(1) {
		t.Fatalf("accept must patch the acting side's cache")
	}
	r.HandleClientFrame(context.Background(), bob, []byte(`{"m_type": 0, "t_type": 0, "content": "hi", "receiver": 1}`))
	if fabric.count("user_1") == 0 {
		t.Fatalf("content after accept must pass the gate")
	}
}

func TestSnapshotListsFriendsAndGroups(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store, newFakeFabric(), &fakeSink{})
	c := newTestConn(t, r, 1)
	c.cache.LoadFriends([]msg.UserID{2})
	c.cache.PutGroup(&identity.GroupInfo{ID: 300, Name: "study", Owner: 1, Members: []msg.UserID{1, 2}})

	if err := r.SendSnapshot(context.Background(), c); err != nil {
		t.Fatalf("SendSnapshot: %v", err)
	}
	frames := drainSend(c)
	if len(frames) != 1 {
		t.Fatalf("snapshot frames = %d, want 1", len(frames))
	}
	env := frameOf(t, frames[0])
	contacts, ok := env.Content.(map[string]any)
	if !ok {
		t.Fatalf("snapshot content shape: %T", env.Content)
	}
	if _, ok := contacts["2"]; !ok {
		t.Fatalf("friend 2 missing from snapshot")
	}
	group, ok := contacts["300"].(map[string]any)
	if !ok || group["category"] != "group" {
		t.Fatalf("group 300 missing or mis-shaped: %v", contacts["300"])
	}
}
