package chat

import (
	"context"

	"telethu/module/identity"
	msg "telethu/module/message"
	"telethu/tools/errs"
)

// 好友控制消息。关系变更在存储层单条原子写完成；
// 本端缓存立即打补丁，对端靠投递补丁收敛。

func handleApplyFriend(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	state, initiator, exists, err := r.store.FriendshipState(ctx, c.UserID, env.Receiver)
	if err != nil {
		return nil, err
	}
	if exists {
		switch state {
		case identity.FriendAccepted:
			return nil, errs.ErrAlreadyFriend
		case identity.FriendPending:
			if initiator == c.UserID {
				return nil, errs.ErrAlreadyApplied
			}
			return nil, errs.ErrAlreadyApplied.WithDetail("already receive apply")
		case identity.FriendBlocked:
			return nil, errs.ErrAlreadyBlocked
		}
		// rejected / deleted 可以重新申请
	}
	if err := r.store.MutateFriendship(ctx, c.UserID, env.Receiver, identity.FriendPending); err != nil {
		return nil, err
	}
	return []msg.UserID{env.Receiver}, nil
}

func handleAcceptFriend(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	state, initiator, exists, err := r.store.FriendshipState(ctx, c.UserID, env.Receiver)
	if err != nil {
		return nil, err
	}
	if !exists || state != identity.FriendPending {
		return nil, errs.ErrNoRelationship.WithDetail("no pending apply")
	}
	if initiator == c.UserID {
		return nil, errs.ErrNoRelationship.WithDetail("cannot accept your own apply")
	}
	if err := r.store.MutateFriendship(ctx, c.UserID, env.Receiver, identity.FriendAccepted); err != nil {
		return nil, err
	}
	// 门按变更后的状态放行：本端缓存立即补上新好友
	c.cache.AddFriend(env.Receiver)
	return []msg.UserID{env.Receiver}, nil
}

func handleRejectFriend(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	state, initiator, exists, err := r.store.FriendshipState(ctx, c.UserID, env.Receiver)
	if err != nil {
		return nil, err
	}
	if !exists || state != identity.FriendPending || initiator == c.UserID {
		return nil, errs.ErrNoRelationship.WithDetail("no pending apply")
	}
	if err := r.store.MutateFriendship(ctx, c.UserID, env.Receiver, identity.FriendRejected); err != nil {
		return nil, err
	}
	return []msg.UserID{env.Receiver}, nil
}

func handleBlockFriend(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	state, initiator, exists, err := r.store.FriendshipState(ctx, c.UserID, env.Receiver)
	if err != nil {
		return nil, err
	}
	if exists && state == identity.FriendBlocked && initiator == c.UserID {
		return nil, errs.ErrAlreadyBlocked
	}
	if err := r.store.MutateFriendship(ctx, c.UserID, env.Receiver, identity.FriendBlocked); err != nil {
		return nil, err
	}
	c.cache.RemoveFriend(env.Receiver)
	return []msg.UserID{env.Receiver}, nil
}

func handleUnblockFriend(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	state, initiator, exists, err := r.store.FriendshipState(ctx, c.UserID, env.Receiver)
	if err != nil {
		return nil, err
	}
	if !exists || state != identity.FriendBlocked {
		return nil, errs.ErrNoRelationship.WithDetail("not blocked")
	}
	if initiator != c.UserID {
		return nil, errs.ErrNoRelationship.WithDetail("blocked by the other side")
	}
	// 解除拉黑回到已接受状态
	if err := r.store.MutateFriendship(ctx, c.UserID, env.Receiver, identity.FriendAccepted); err != nil {
		return nil, err
	}
	c.cache.AddFriend(env.Receiver)
	return []msg.UserID{env.Receiver}, nil
}

func handleDeleteFriend(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	_, _, exists, err := r.store.FriendshipState(ctx, c.UserID, env.Receiver)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errs.ErrNoRelationship
	}
	if err := r.store.MutateFriendship(ctx, c.UserID, env.Receiver, identity.FriendDeleted); err != nil {
		return nil, err
	}
	c.cache.RemoveFriend(env.Receiver)
	return []msg.UserID{env.Receiver}, nil
}
