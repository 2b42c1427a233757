package message

import (
	"encoding/json"
	"testing"
)

func TestParseAckFrame(t *testing.T) {
	// 没有 m_type 的帧是纯回执
	env, err := Parse([]byte(`{"message_id": 12345}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !env.IsAck() {
		t.Fatalf("frame without m_type should be an ack")
	}
	if env.MessageID != 12345 {
		t.Fatalf("message_id = %d, want 12345", env.MessageID)
	}
}

func TestParseTextFrameIsNotAck(t *testing.T) {
	// m_type=0 是文本，不能和缺省 m_type 混淆
	env, err := Parse([]byte(`{"m_type": 0, "t_type": 0, "content": "hi", "receiver": 2, "tmp_id": "a1"}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if env.IsAck() {
		t.Fatalf("text frame misparsed as ack")
	}
	if env.Kind != Text || env.TmpID != "a1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestEncodeKeepsZeroKind(t *testing.T) {
	env := &Envelope{MessageID: 1, Kind: Text, Target: TargetFriend, Receiver: 2}
	raw, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if _, ok := m["m_type"]; !ok {
		t.Fatalf("m_type must survive encoding even when zero, got %s", raw)
	}
}

func TestKindClassification(t *testing.T) {
	if !Text.IsContent() || !Sticker.IsContent() {
		t.Fatalf("text/sticker should be content kinds")
	}
	if ApplyFriend.IsContent() {
		t.Fatalf("apply_friend is a control kind")
	}
	if !Reply.IsStorable() {
		t.Fatalf("reply carries a body and must be storable")
	}
	if ReadMessage.IsStorable() {
		t.Fatalf("read receipt must not be storable")
	}
	if Known := Kind(99).Known(); Known {
		t.Fatalf("kind 99 should be unknown")
	}
}

func TestDecodeContentWeakTyping(t *testing.T) {
	// json 数字经过 any 会变 float64，弱类型解码要能接住
	content := map[string]any{"name": "study", "members": []any{float64(2), float64(3)}}
	got, err := DecodeContent[CreateGroupContent](content)
	if err != nil {
		t.Fatalf("DecodeContent failed: %v", err)
	}
	if got.Name != "study" || len(got.Members) != 2 || got.Members[1] != 3 {
		t.Fatalf("unexpected decode result: %+v", got)
	}
}

func TestIDList(t *testing.T) {
	ids, err := IDList([]any{float64(7), float64(8)})
	if err != nil {
		t.Fatalf("IDList failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 7 {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if _, err := IDList("nope"); err == nil {
		t.Fatalf("non-list content should fail")
	}
}

func TestParseKeepsBigContentIDs(t *testing.T) {
	// 雪花 id 低位非零时超出 float64 精度，content 里的数字不能走浮点
	const big = int64(484061648852619268)

	env, err := Parse([]byte(`{"m_type": 26, "t_type": 0, "content": 484061648852619268, "receiver": 2}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	n, ok := env.Content.(json.Number)
	if !ok {
		t.Fatalf("content type = %T, want json.Number", env.Content)
	}
	if got, err := n.Int64(); err != nil || got != big {
		t.Fatalf("content id = %d (%v), want %d", got, err, big)
	}

	// 嵌在对象里的 id 同样不能丢位
	env, err = Parse([]byte(`{"m_type": 29, "t_type": 0, "content": {"message_id": 484061648852619268, "content": "fixed"}, "receiver": 2}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	edit, err := DecodeContent[EditContent](env.Content)
	if err != nil {
		t.Fatalf("DecodeContent failed: %v", err)
	}
	if edit.MessageID != big {
		t.Fatalf("edit message_id = %d, want %d", edit.MessageID, big)
	}

	ids, err := IDList([]any{json.Number("484061648852619268")})
	if err != nil {
		t.Fatalf("IDList failed: %v", err)
	}
	if ids[0] != big {
		t.Fatalf("id list element = %d, want %d", ids[0], big)
	}
}
