package chat

import (
	"sync"

	"telethu/module/identity"
	msg "telethu/module/message"
)

// Cache 连接私有的关系缓存：好友集合、群成员表、tmp_id 去重表。
// 客户端帧和 broker 投递两条协程并发读写，由这把锁护住；
// 不跨连接共享，过期靠投递补丁收敛。
type Cache struct {
	mu      sync.RWMutex
	friends map[msg.UserID]struct{}
	groups  map[msg.GroupID]*identity.GroupInfo
	tempIDs map[string]msg.MessageID
}

func NewCache() *Cache {
	return &Cache{
		friends: make(map[msg.UserID]struct{}),
		groups:  make(map[msg.GroupID]*identity.GroupInfo),
		tempIDs: make(map[string]msg.MessageID),
	}
}

// LoadFriends 连接建立时的批量装载
func (c *Cache) LoadFriends(ids []msg.UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.friends[id] = struct{}{}
	}
}

func (c *Cache) LoadGroups(groups map[msg.GroupID]*identity.GroupInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, g := range groups {
		c.groups[id] = g.Clone()
	}
}

func (c *Cache) IsFriend(id msg.UserID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.friends[id]
	return ok
}

func (c *Cache) AddFriend(id msg.UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.friends[id] = struct{}{}
}

func (c *Cache) RemoveFriend(id msg.UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.friends, id)
}

func (c *Cache) Friends() []msg.UserID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]msg.UserID, 0, len(c.friends))
	for id := range c.friends {
		out = append(out, id)
	}
	return out
}

// GroupMembers 群的缓存成员快照；不是成员时 ok=false
func (c *Cache) GroupMembers(id msg.GroupID) ([]msg.UserID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[id]
	if !ok {
		return nil, false
	}
	out := make([]msg.UserID, len(g.Members))
	copy(out, g.Members)
	return out, true
}

// Group 群快照。交出去的是深拷贝，帧协程拿着读时投递协程可以继续打补丁。
func (c *Cache) Group(id msg.GroupID) (*identity.GroupInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[id]
	if !ok {
		return nil, false
	}
	return g.Clone(), true
}

// PutGroup 整群快照覆盖（建群/加人等控制消息携带权威快照）
func (c *Cache) PutGroup(g *identity.GroupInfo) {
	if g == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[g.ID] = g.Clone()
}

func (c *Cache) DropGroup(id msg.GroupID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.groups, id)
}

// RemoveGroupMember 从缓存群里摘人；摘的是自己就整群丢掉
func (c *Cache) RemoveGroupMember(gid msg.GroupID, uid, self msg.UserID) {
	if uid == self {
		c.DropGroup(gid)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[gid]
	if !ok {
		return
	}
	members := make([]msg.UserID, 0, len(g.Members))
	for _, m := range g.Members {
		if m != uid {
			members = append(members, m)
		}
	}
	g.Members = members
	admins := make([]msg.UserID, 0, len(g.Admins))
	for _, a := range g.Admins {
		if a != uid {
			admins = append(admins, a)
		}
	}
	g.Admins = admins
}

func (c *Cache) Groups() map[msg.GroupID]*identity.GroupInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[msg.GroupID]*identity.GroupInfo, len(c.groups))
	for id, g := range c.groups {
		out[id] = g.Clone()
	}
	return out
}

// TempID 查询客户端临时 id 是否已经分配过 message_id
func (c *Cache) TempID(tmpID string) (msg.MessageID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.tempIDs[tmpID]
	return id, ok
}

func (c *Cache) RememberTempID(tmpID string, id msg.MessageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tempIDs[tmpID] = id
}
