package chat

import (
	"context"
	"time"

	msg "telethu/module/message"
	"telethu/tools/ids"
)

// SendSnapshot 给连接推一份联系人全量快照：
// contactId -> user/group 记录，客户端据此重建本地通讯录。
// 建链后发一次，SyncRequest 再要再发。只走本连接，不过 fabric。
func (r *Router) SendSnapshot(ctx context.Context, c *Conn) error {
	contacts := make(map[string]any)

	friends := c.cache.Friends()
	if len(friends) > 0 {
		users, err := r.store.UsersMeta(ctx, friends)
		if err != nil {
			return err
		}
		for _, u := range users {
			contacts[itoa(int64(u.ID))] = u
		}
	}

	for _, g := range c.cache.Groups() {
		contacts[itoa(int64(g.ID))] = msg.GroupData{
			ID:       g.ID,
			Name:     g.Name,
			Avatar:   g.Avatar,
			Members:  g.Members,
			Owner:    g.Owner,
			Admin:    g.Admins,
			Pinned:   g.Pinned,
			Category: "group",
		}
	}

	env := &msg.Envelope{
		MessageID: ids.Generate(),
		Kind:      msg.Function,
		Target:    msg.TargetOther,
		Time:      time.Now().UnixMilli(),
		Content:   contacts,
		Sender:    c.UserID,
		Receiver:  c.UserID,
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return c.Enqueue(data)
}
