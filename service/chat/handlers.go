package chat

import (
	"context"
	"encoding/json"
	"errors"

	msg "telethu/module/message"
	"telethu/tools/errs"
)

// errNoFanout handler 自己消化了这帧，不需要发布也不算错误
var errNoFanout = errors.New("no fanout")

func jsonMarshal(v any) ([]byte, error) { return json.Marshal(v) }

// removedMemberContent 被移出群的控制消息正文
type removedMemberContent struct {
	UserID msg.UserID `json:"user_id"`
}

func buildHandlerTable() map[msg.Kind]handlerFunc {
	t := map[msg.Kind]handlerFunc{
		msg.Text:    handleContent,
		msg.Image:   handleContent,
		msg.Audio:   handleContent,
		msg.Video:   handleContent,
		msg.File:    handleContent,
		msg.Sticker: handleContent,
		msg.Reply:   handleContent,

		msg.ApplyFriend:   handleApplyFriend,
		msg.AcceptFriend:  handleAcceptFriend,
		msg.RejectFriend:  handleRejectFriend,
		msg.BlockFriend:   handleBlockFriend,
		msg.UnblockFriend: handleUnblockFriend,
		msg.DeleteFriend:  handleDeleteFriend,

		msg.CreateGroup:       handleCreateGroup,
		msg.AddGroupMember:    handleAddGroupMember,
		msg.RemoveGroupMember: handleRemoveGroupMember,
		msg.LeaveGroup:        handleLeaveGroup,
		msg.ChangeGroupOwner:  handleChangeGroupOwner,
		msg.AddGroupAdmin:     handleSetGroupAdmin(true),
		msg.RemoveGroupAdmin:  handleSetGroupAdmin(false),
		msg.DeleteGroup:       handleDeleteGroup,

		msg.ReadMessage:   handleReadMessage,
		msg.RecallSelf:    handleRecallSelf,
		msg.RecallMember:  handleRecallMember,
		msg.DeleteMessage: handleDeleteMessage,
		msg.EditMessage:   handleEditMessage,
		msg.PinMessage:    handlePinMessage(true),
		msg.UnpinMessage:  handlePinMessage(false),

		msg.EditProfile: handleEditProfile,
		msg.SyncRequest: handleSyncRequest,
	}
	return t
}

// handleContent 内容消息不动协作方，只定 receiver 集合。
// 授权门已经在路由器里过掉了。
func handleContent(_ context.Context, _ *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	switch env.Target {
	case msg.TargetFriend:
		return []msg.UserID{env.Receiver}, nil
	case msg.TargetGroup:
		members, ok := c.cache.GroupMembers(env.Receiver)
		if !ok {
			return nil, errs.ErrNotMember.WrapMsg("", "group", env.Receiver)
		}
		return members, nil
	default:
		return nil, errs.ErrBadTarget.WrapMsg("", "t_type", int(env.Target))
	}
}

// handleEditProfile 改资料只回自己（多端收敛靠 echo）
func handleEditProfile(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	patch, err := msg.DecodeContent[msg.ProfileContent](env.Content)
	if err != nil {
		return nil, errs.ErrBadTarget.WithDetail(err.Error())
	}
	if err := r.store.PatchProfile(ctx, c.UserID, *patch); err != nil {
		return nil, err
	}
	return nil, nil
}

// handleSyncRequest 客户端要一份新快照，直接回本连接，不发布
func handleSyncRequest(ctx context.Context, r *Router, c *Conn, _ *msg.Envelope) ([]msg.UserID, error) {
	if err := r.SendSnapshot(ctx, c); err != nil {
		return nil, err
	}
	return nil, errNoFanout
}
