package identity

import (
	"context"

	msg "telethu/module/message"
)

// FriendState 好友关系状态，沿用历史取值
type FriendState int

const (
	FriendPending  FriendState = 0
	FriendAccepted FriendState = 1
	FriendBlocked  FriendState = 2
	FriendRejected FriendState = 3
	FriendDeleted  FriendState = 4
)

// GroupInfo 群的权威快照
type GroupInfo struct {
	ID      msg.GroupID     `bson:"group_id" json:"id"`
	Name    string          `bson:"name" json:"name"`
	Avatar  string          `bson:"avatar" json:"avatar"`
	Owner   msg.UserID      `bson:"owner" json:"owner"`
	Admins  []msg.UserID    `bson:"admins" json:"admin"`
	Members []msg.UserID    `bson:"members" json:"members"`
	Pinned  []msg.MessageID `bson:"pinned" json:"top_message"`
}

// Clone 深拷贝。缓存边界上传递快照用，切片不共享底层数组。
func (g *GroupInfo) Clone() *GroupInfo {
	if g == nil {
		return nil
	}
	cp := *g
	cp.Admins = append([]msg.UserID(nil), g.Admins...)
	cp.Members = append([]msg.UserID(nil), g.Members...)
	cp.Pinned = append([]msg.MessageID(nil), g.Pinned...)
	return &cp
}

// HasMember 是否群成员
func (g *GroupInfo) HasMember(id msg.UserID) bool {
	for _, m := range g.Members {
		if m == id {
			return true
		}
	}
	return false
}

// IsOwnerOrAdmin 是否群主或管理员
func (g *GroupInfo) IsOwnerOrAdmin(id msg.UserID) bool {
	if g.Owner == id {
		return true
	}
	for _, a := range g.Admins {
		if a == id {
			return true
		}
	}
	return false
}

// MessageRecord 永久存储里的消息记录（storaged 写入，控制面回查/修改）
type MessageRecord struct {
	MessageID msg.MessageID `bson:"message_id" json:"message_id"`
	Kind      msg.Kind      `bson:"m_type" json:"m_type"`
	Target    msg.Target    `bson:"t_type" json:"t_type"`
	Time      int64         `bson:"time" json:"time"`
	Content   string        `bson:"content" json:"content"` // 序列化后的正文
	Sender    msg.UserID    `bson:"sender" json:"sender"`
	Receiver  int64         `bson:"receiver" json:"receiver"`
	Info      string        `bson:"info" json:"info"`
	WhoRead   []msg.UserID  `bson:"who_read" json:"who_read"`
	Status    string        `bson:"status" json:"status"` // "", recalled, deleted, edited
}

// Store 身份与消息记录的读写操作。路由器只认这个接口；
// 权限与状态冲突在这一层裁决，用 tools/errs 的业务错误码返回。
type Store interface {
	// 身份查询（连接建立时批量读，之后靠投递补丁维护）
	FriendsOf(ctx context.Context, userID msg.UserID) ([]msg.UserID, error)
	FriendshipState(ctx context.Context, a, b msg.UserID) (FriendState, msg.UserID, bool, error)
	GroupsOf(ctx context.Context, userID msg.UserID) (map[msg.GroupID]*GroupInfo, error)
	GetGroup(ctx context.Context, groupID msg.GroupID) (*GroupInfo, error)
	UsersMeta(ctx context.Context, ids []msg.UserID) ([]msg.UserData, error)

	// 关系变更（单条 FindOneAndUpdate，两端设备竞态下不丢更新）
	MutateFriendship(ctx context.Context, acting, other msg.UserID, state FriendState) error

	// 群变更
	CreateGroup(ctx context.Context, name string, owner msg.UserID, members []msg.UserID) (*GroupInfo, error)
	AddGroupMembers(ctx context.Context, groupID msg.GroupID, acting msg.UserID, add []msg.UserID) (*GroupInfo, error)
	RemoveGroupMember(ctx context.Context, groupID msg.GroupID, acting, remove msg.UserID) (*GroupInfo, error)
	LeaveGroup(ctx context.Context, groupID msg.GroupID, userID msg.UserID) (*GroupInfo, error)
	ChangeGroupOwner(ctx context.Context, groupID msg.GroupID, oldOwner, newOwner msg.UserID) error
	SetGroupAdmin(ctx context.Context, groupID msg.GroupID, acting, admin msg.UserID, add bool) error
	DeleteGroup(ctx context.Context, groupID msg.GroupID, acting msg.UserID) (*GroupInfo, error)

	// 消息记录
	InsertMessage(ctx context.Context, rec *MessageRecord) error
	GetMessage(ctx context.Context, id msg.MessageID) (*MessageRecord, error)
	MarkRead(ctx context.Context, id msg.MessageID, reader msg.UserID) (*MessageRecord, error)
	SetMessageStatus(ctx context.Context, id msg.MessageID, status string) error
	EditMessageBody(ctx context.Context, id msg.MessageID, body string) error
	PinMessage(ctx context.Context, groupID msg.GroupID, id msg.MessageID, acting msg.UserID, add bool) error

	// 个人资料
	PatchProfile(ctx context.Context, userID msg.UserID, patch msg.ProfileContent) error
}
