package chat

import (
	"context"
	"encoding/json"
	"strconv"

	"telethu/module/identity"
	msg "telethu/module/message"
	"telethu/tools/errs"
)

// 指向既有消息记录的控制消息：已读、撤回、删除、编辑、置顶。

// contentID content 为单个消息 id 的场合
func contentID(content any) (int64, error) {
	switch v := content.(type) {
	case json.Number:
		id, err := v.Int64()
		if err != nil {
			return 0, errs.ErrBadTarget.WithDetail("content must be a message id")
		}
		return id, nil
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, errs.ErrBadTarget.WithDetail("content must be a message id")
	}
}

// originalReceivers 原消息的投递集合：群按缓存成员表，缓存没有再回表
func originalReceivers(ctx context.Context, r *Router, c *Conn, rec *identity.MessageRecord) ([]msg.UserID, error) {
	if rec.Target == msg.TargetGroup {
		if members, ok := c.cache.GroupMembers(rec.Receiver); ok {
			return members, nil
		}
		g, err := r.store.GetGroup(ctx, rec.Receiver)
		if err != nil {
			return nil, err
		}
		return g.Members, nil
	}
	return []msg.UserID{rec.Receiver}, nil
}

func handleReadMessage(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	id, err := contentID(env.Content)
	if err != nil {
		return nil, err
	}
	rec, err := r.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	// 只有消息的收件人（或所在群成员）能标已读
	if rec.Receiver != c.UserID {
		if rec.Target != msg.TargetGroup {
			return nil, errs.ErrMessageNotFound.WithDetail("you cannot read this message")
		}
		if _, ok := c.cache.Group(rec.Receiver); !ok {
			return nil, errs.ErrMessageNotFound.WithDetail("you cannot read this message")
		}
	}
	if _, err := r.store.MarkRead(ctx, id, c.UserID); err != nil {
		return nil, err
	}
	// 回执送原发送方 + 自己（fan-out 自动补 echo）
	return []msg.UserID{rec.Sender}, nil
}

func handleRecallSelf(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	id, err := contentID(env.Content)
	if err != nil {
		return nil, err
	}
	rec, err := r.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Sender != c.UserID {
		return nil, errs.ErrNotYourMessage
	}
	// 统一按服务端消息时间戳比较，毫秒差超窗即拒绝
	if env.Time-rec.Time > r.cfg.RecallWindow.Milliseconds() {
		return nil, errs.ErrRecallWindow
	}
	if err := r.store.SetMessageStatus(ctx, id, "recalled"); err != nil {
		return nil, err
	}
	env.Target = rec.Target
	env.Receiver = rec.Receiver
	return originalReceivers(ctx, r, c, rec)
}

func handleRecallMember(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	id, err := contentID(env.Content)
	if err != nil {
		return nil, err
	}
	g, ok := c.cache.Group(env.Receiver)
	if !ok {
		return nil, errs.ErrNotMember.WrapMsg("", "group", env.Receiver)
	}
	if !g.IsOwnerOrAdmin(c.UserID) {
		return nil, errs.ErrNotOwnerAdmin
	}
	rec, err := r.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Target != msg.TargetGroup || rec.Receiver != env.Receiver {
		return nil, errs.ErrMessageNotFound.WithDetail("message not in group")
	}
	if err := r.store.SetMessageStatus(ctx, id, "recalled"); err != nil {
		return nil, err
	}
	members, _ := c.cache.GroupMembers(env.Receiver)
	return members, nil
}

func handleDeleteMessage(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	id, err := contentID(env.Content)
	if err != nil {
		return nil, err
	}
	rec, err := r.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Sender != c.UserID {
		return nil, errs.ErrNotYourMessage
	}
	if err := r.store.SetMessageStatus(ctx, id, "deleted"); err != nil {
		return nil, err
	}
	env.Target = rec.Target
	env.Receiver = rec.Receiver
	return originalReceivers(ctx, r, c, rec)
}

func handleEditMessage(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
	req, err := msg.DecodeContent[msg.EditContent](env.Content)
	if err != nil {
		return nil, errs.ErrBadTarget.WithDetail(err.Error())
	}
	rec, err := r.store.GetMessage(ctx, req.MessageID)
	if err != nil {
		return nil, err
	}
	if rec.Sender != c.UserID {
		return nil, errs.ErrNotYourMessage
	}
	if env.Time-rec.Time > r.cfg.RecallWindow.Milliseconds() {
		return nil, errs.ErrRecallWindow
	}
	if err := r.store.EditMessageBody(ctx, req.MessageID, req.Content); err != nil {
		return nil, err
	}
	env.Target = rec.Target
	env.Receiver = rec.Receiver
	return originalReceivers(ctx, r, c, rec)
}

func handlePinMessage(add bool) handlerFunc {
	return func(ctx context.Context, r *Router, c *Conn, env *msg.Envelope) ([]msg.UserID, error) {
		id, err := contentID(env.Content)
		if err != nil {
			return nil, err
		}
		if err := r.store.PinMessage(ctx, env.Receiver, id, c.UserID, add); err != nil {
			return nil, err
		}
		g, err := r.store.GetGroup(ctx, env.Receiver)
		if err != nil {
			return nil, err
		}
		c.cache.PutGroup(g)
		env.Content = g
		env.Info = strconv.FormatInt(id, 10)
		return g.Members, nil
	}
}
