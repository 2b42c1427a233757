package chat

import (
	"context"

	msg "telethu/module/message"
	"telethu/tools/errs"
)

// 群控制消息。权限在存储层裁决；返回的 receiver 集合按变更后的
// 成员表给出，被移出的人也收最后一条通知好清自己的缓存。

func handleCreateGroup(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	req, err := msg.DecodeContent[msg.CreateGroupContent](env.Content)
	if err != nil {
		return nil, errs.ErrBadTarget.WithDetail(err.Error())
	}
	// 只有自己的好友能被拉进新群
	members := make([]msg.UserID, 0, len(req.Members))
	for _, m := range req.Members {
		if c.cache.IsFriend(m) {
			members = append(members, m)
		}
	}
	g, err := r.store.CreateGroup(ctx, req.Name, c.UserID, members)
	if err != nil {
		return nil, err
	}
	c.cache.PutGroup(g)
	env.Target = msg.TargetGroup
	env.Receiver = g.ID
	env.Content = g
	return g.Members, nil
}

func handleAddGroupMember(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	add, err := msg.IDList(env.Content)
	if err != nil {
		return nil, errs.ErrBadTarget.WithDetail(err.Error())
	}
	filtered := make([]msg.UserID, 0, len(add))
	for _, m := range add {
		if c.cache.IsFriend(m) {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) == 0 {
		return nil, errs.ErrNotFriend.WithDetail("no addable member")
	}
	g, err := r.store.AddGroupMembers(ctx, env.Receiver, c.UserID, filtered)
	if err != nil {
		return nil, err
	}
	c.cache.PutGroup(g)
	env.Content = g
	return g.Members, nil
}

func handleRemoveGroupMember(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	ids, err := msg.IDList(env.Content)
	if err != nil || len(ids) != 1 {
		return nil, errs.ErrBadTarget.WithDetail("content must be [user_id]")
	}
	removed := ids[0]
	g, err := r.store.RemoveGroupMember(ctx, env.Receiver, c.UserID, removed)
	if err != nil {
		return nil, err
	}
	c.cache.RemoveGroupMember(g.ID, removed, c.UserID)
	env.Content = removedMemberContent{UserID: removed}
	// 被移出的人也要收到，receiver 集合 = 剩余成员 + 被移出者
	return append(append([]msg.UserID{}, g.Members...), removed), nil
}

func handleLeaveGroup(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	g, err := r.store.LeaveGroup(ctx, env.Receiver, c.UserID)
	if err != nil {
		return nil, err
	}
	c.cache.DropGroup(g.ID)
	return g.Members, nil
}

func handleChangeGroupOwner(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	ids, err := msg.IDList(env.Content)
	if err != nil || len(ids) != 1 {
		return nil, errs.ErrBadTarget.WithDetail("content must be [user_id]")
	}
	if err := r.store.ChangeGroupOwner(ctx, env.Receiver, c.UserID, ids[0]); err != nil {
		return nil, err
	}
	g, err := r.store.GetGroup(ctx, env.Receiver)
	if err != nil {
		return nil, err
	}
	c.cache.PutGroup(g)
	env.Content = g
	return g.Members, nil
}

func handleSetGroupAdmin(add bool) handlerFunc {
	return func(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
		ids, err := msg.IDList(env.Content)
		if err != nil || len(ids) != 1 {
			return nil, errs.ErrBadTarget.WithDetail("content must be [user_id]")
		}
		if err := r.store.SetGroupAdmin(ctx, env.Receiver, c.UserID, ids[0], add); err != nil {
			return nil, err
		}
		g, err := r.store.GetGroup(ctx, env.Receiver)
		if err != nil {
			return nil, err
		}
		c.cache.PutGroup(g)
		env.Content = g
		return g.Members, nil
	}
}

func handleDeleteGroup(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	g, err := r.store.DeleteGroup(ctx, env.Receiver, c.UserID)
	if err != nil {
		return nil, err
	}
	c.cache.DropGroup(g.ID)
	return g.Members, nil
}
