package message

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type UserID = int64
type GroupID = int64
type MessageID = int64

// Kind 消息类型。Function 之前是内容消息，之后是控制消息。
type Kind int

const (
	Text    Kind = 0
	Image   Kind = 1
	Audio   Kind = 2
	Video   Kind = 3
	File    Kind = 4
	Sticker Kind = 5

	// Function 分界线，不要直接使用
	Function Kind = 10

	ApplyFriend   Kind = 11
	AcceptFriend  Kind = 12
	RejectFriend  Kind = 13
	BlockFriend   Kind = 14
	UnblockFriend Kind = 15
	DeleteFriend  Kind = 16

	CreateGroup       Kind = 17
	AddGroupMember    Kind = 18
	RemoveGroupMember Kind = 19
	LeaveGroup        Kind = 20
	ChangeGroupOwner  Kind = 21
	AddGroupAdmin     Kind = 22
	RemoveGroupAdmin  Kind = 23
	DeleteGroup       Kind = 24

	ReadMessage   Kind = 25
	RecallSelf    Kind = 26
	RecallMember  Kind = 27
	DeleteMessage Kind = 28
	EditMessage   Kind = 29
	PinMessage    Kind = 30
	UnpinMessage  Kind = 31

	EditProfile Kind = 32
	Reply       Kind = 33
	SyncRequest Kind = 34
)

// IsContent 是否内容消息（文本/媒体）
func (k Kind) IsContent() bool { return k < Function }

// IsStorable 是否需要进永久存储。Reply 带正文，按内容消息落库。
func (k Kind) IsStorable() bool { return k.IsContent() || k == Reply }

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var kindNames = map[Kind]string{
	Text: "text", Image: "image", Audio: "audio", Video: "video",
	File: "file", Sticker: "sticker",
	ApplyFriend: "apply_friend", AcceptFriend: "accept_friend",
	RejectFriend: "reject_friend", BlockFriend: "block_friend",
	UnblockFriend: "unblock_friend", DeleteFriend: "delete_friend",
	CreateGroup: "create_group", AddGroupMember: "add_group_member",
	RemoveGroupMember: "remove_group_member", LeaveGroup: "leave_group",
	ChangeGroupOwner: "change_group_owner", AddGroupAdmin: "add_group_admin",
	RemoveGroupAdmin: "remove_group_admin", DeleteGroup: "delete_group",
	ReadMessage: "read_message", RecallSelf: "recall_self",
	RecallMember: "recall_member", DeleteMessage: "delete_message",
	EditMessage: "edit_message", PinMessage: "pin_message",
	UnpinMessage: "unpin_message", EditProfile: "edit_profile",
	Reply: "reply", SyncRequest: "sync_request",
}

// Known 是否已注册的消息类型
func (k Kind) Known() bool {
	_, ok := kindNames[k]
	return ok
}

// Target 路由目标维度
type Target int

const (
	TargetFriend Target = 0
	TargetGroup  Target = 1
	TargetOther  Target = 2
	TargetError  Target = 3 // 错误回包标记，只回发送方
)

// Envelope 路由单元。客户端发来的帧和服务端下发的帧共用这个形状。
// message_id / sender / time 由服务端赋值，客户端传了也会被覆盖。
type Envelope struct {
	MessageID MessageID `json:"message_id,omitempty"`
	TmpID     string    `json:"tmp_id,omitempty"` // 客户端临时 id，仅用于 ack 关联和去重
	Kind      Kind      `json:"m_type"`
	Target    Target    `json:"t_type"`
	Time      int64     `json:"time,omitempty"` // 服务端毫秒时间戳
	Content   any       `json:"content,omitempty"`
	Sender    UserID    `json:"sender,omitempty"`
	Receiver  int64     `json:"receiver,omitempty"` // user id 或 group id，看 t_type
	Info      string    `json:"info,omitempty"`     // 引用/转发等附加信息
	WhoRead   []UserID  `json:"who_read,omitempty"`

	ack bool
}

// IsAck 是否纯 ack 帧：有 message_id 而没有 m_type
func (e *Envelope) IsAck() bool { return e.ack }

type envelopeWire struct {
	MessageID MessageID `json:"message_id,omitempty"`
	TmpID     string    `json:"tmp_id,omitempty"`
	Kind      *Kind     `json:"m_type,omitempty"`
	Target    Target    `json:"t_type"`
	Time      int64     `json:"time,omitempty"`
	Content   any       `json:"content,omitempty"`
	Sender    UserID    `json:"sender,omitempty"`
	Receiver  int64     `json:"receiver,omitempty"`
	Info      string    `json:"info,omitempty"`
	WhoRead   []UserID  `json:"who_read,omitempty"`
}

func (e *Envelope) UnmarshalJSON(raw []byte) error {
	var w envelopeWire
	// content 里引用的消息 id 是雪花 id，超出 float64 的 53 位精度，
	// 数字一律留成 json.Number 不走浮点
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return err
	}
	e.MessageID = w.MessageID
	e.TmpID = w.TmpID
	e.Target = w.Target
	e.Time = w.Time
	e.Content = w.Content
	e.Sender = w.Sender
	e.Receiver = w.Receiver
	e.Info = w.Info
	e.WhoRead = w.WhoRead
	if w.Kind == nil {
		e.ack = true
	} else {
		e.Kind = *w.Kind
	}
	return nil
}

func (e *Envelope) MarshalJSON() ([]byte, error) {
	k := e.Kind
	w := envelopeWire{
		MessageID: e.MessageID,
		TmpID:     e.TmpID,
		Kind:      &k,
		Target:    e.Target,
		Time:      e.Time,
		Content:   e.Content,
		Sender:    e.Sender,
		Receiver:  e.Receiver,
		Info:      e.Info,
		WhoRead:   e.WhoRead,
	}
	return json.Marshal(&w)
}

// Parse 解析一帧
func Parse(raw []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	return &e, nil
}

// Encode 序列化一帧
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// AckFrame 服务端发给客户端的回执：tmp_id -> 分配的 message_id
type AckFrame struct {
	MessageID MessageID `json:"message_id"`
	Reference string    `json:"reference,omitempty"` // 对应客户端 tmp_id
}

func NewAckFrame(id MessageID, tmpID string) *AckFrame {
	return &AckFrame{MessageID: id, Reference: tmpID}
}
