package identity

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	msg "telethu/module/message"
	"telethu/tools/errs"
	"telethu/tools/ids"
)

func (s *mongoStore) groups() *mongo.Collection { return s.db.Collection(colGroups) }

func (s *mongoStore) GetGroup(ctx context.Context, groupID msg.GroupID) (*GroupInfo, error) {
	var g GroupInfo
	err := s.groups().FindOne(ctx, bson.M{"group_id": groupID}).Decode(&g)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrGroupNotFound.WrapMsg("", "group", groupID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query group")
	}
	return &g, nil
}

func (s *mongoStore) GroupsOf(ctx context.Context, userID msg.UserID) (map[msg.GroupID]*GroupInfo, error) {
	cur, err := s.groups().Find(ctx, bson.M{"members": userID})
	if err != nil {
		return nil, errors.Wrap(err, "query groups")
	}
	defer func() { _ = cur.Close(ctx) }()

	out := make(map[msg.GroupID]*GroupInfo)
	for cur.Next(ctx) {
		var g GroupInfo
		if err := cur.Decode(&g); err != nil {
			return nil, errors.Wrap(err, "decode group")
		}
		gg := g
		out[g.ID] = &gg
	}
	return out, cur.Err()
}

// CreateGroup 建群，owner 自动入群。members 里不是发起者好友的由调用方先过滤。
func (s *mongoStore) CreateGroup(ctx context.Context, name string, owner msg.UserID, members []msg.UserID) (*GroupInfo, error) {
	all := []msg.UserID{owner}
	for _, m := range members {
		if m != owner {
			all = append(all, m)
		}
	}
	g := &GroupInfo{
		ID:      ids.Generate(),
		Name:    name,
		Owner:   owner,
		Admins:  []msg.UserID{},
		Members: all,
		Pinned:  []msg.MessageID{},
	}
	if _, err := s.groups().InsertOne(ctx, g); err != nil {
		return nil, errors.Wrap(err, "insert group")
	}
	return g, nil
}

func (s *mongoStore) AddGroupMembers(ctx context.Context, groupID msg.GroupID, acting msg.UserID, add []msg.UserID) (*GroupInfo, error) {
	g, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.HasMember(acting) {
		return nil, errs.ErrNotMember.WrapMsg("", "user", acting, "group", groupID)
	}
	res, err := s.groups().UpdateOne(ctx,
		bson.M{"group_id": groupID},
		bson.M{"$addToSet": bson.M{"members": bson.M{"$each": add}}},
	)
	if err != nil {
		return nil, errors.Wrap(err, "add members")
	}
	if res.MatchedCount == 0 {
		return nil, errs.ErrGroupNotFound.WrapMsg("", "group", groupID)
	}
	return s.GetGroup(ctx, groupID)
}

func (s *mongoStore) RemoveGroupMember(ctx context.Context, groupID msg.GroupID, acting, remove msg.UserID) (*GroupInfo, error) {
	g, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.IsOwnerOrAdmin(acting) {
		return nil, errs.ErrNotOwnerAdmin.WrapMsg("", "user", acting)
	}
	if !g.HasMember(remove) {
		return nil, errs.ErrNotMember.WrapMsg("", "user", remove)
	}
	if remove == g.Owner {
		return nil, errs.ErrNotOwner.WithDetail("cannot remove owner")
	}
	// 管理员只有群主能移
	if g.IsOwnerOrAdmin(remove) && acting != g.Owner {
		return nil, errs.ErrNotOwner.WithDetail("cannot remove admin unless owner")
	}
	_, err = s.groups().UpdateOne(ctx,
		bson.M{"group_id": groupID},
		bson.M{"$pull": bson.M{"members": remove, "admins": remove}},
	)
	if err != nil {
		return nil, errors.Wrap(err, "remove member")
	}
	return s.GetGroup(ctx, groupID)
}

func (s *mongoStore) LeaveGroup(ctx context.Context, groupID msg.GroupID, userID msg.UserID) (*GroupInfo, error) {
	g, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.HasMember(userID) {
		return nil, errs.ErrNotMember.WrapMsg("", "user", userID)
	}
	if userID == g.Owner {
		return nil, errs.ErrNotOwner.WithDetail("owner must transfer ownership before leaving")
	}
	_, err = s.groups().UpdateOne(ctx,
		bson.M{"group_id": groupID},
		bson.M{"$pull": bson.M{"members": userID, "admins": userID}},
	)
	if err != nil {
		return nil, errors.Wrap(err, "leave group")
	}
	return s.GetGroup(ctx, groupID)
}

func (s *mongoStore) ChangeGroupOwner(ctx context.Context, groupID msg.GroupID, oldOwner, newOwner msg.UserID) error {
	// 条件里带上 owner 和成员检查，一次写完成校验+变更
	res, err := s.groups().UpdateOne(ctx,
		bson.M{"group_id": groupID, "owner": oldOwner, "members": newOwner},
		bson.M{"$set": bson.M{"owner": newOwner}},
	)
	if err != nil {
		return errors.Wrap(err, "change owner")
	}
	if res.MatchedCount == 0 {
		g, gerr := s.GetGroup(ctx, groupID)
		if gerr != nil {
			return gerr
		}
		if g.Owner != oldOwner {
			return errs.ErrNotOwner.WrapMsg("", "user", oldOwner)
		}
		return errs.ErrNotMember.WrapMsg("new owner not in group", "user", newOwner)
	}
	return nil
}

func (s *mongoStore) SetGroupAdmin(ctx context.Context, groupID msg.GroupID, acting, admin msg.UserID, add bool) error {
	g, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if g.Owner != acting {
		return errs.ErrNotOwner.WrapMsg("", "user", acting)
	}
	if admin == g.Owner {
		return errs.ErrAlreadyAdmin.WithDetail("target is the owner")
	}
	if !g.HasMember(admin) {
		return errs.ErrNotMember.WrapMsg("", "user", admin)
	}
	isAdmin := false
	for _, a := range g.Admins {
		if a == admin {
			isAdmin = true
			break
		}
	}
	var update bson.M
	if add {
		if isAdmin {
			return errs.ErrAlreadyAdmin.WrapMsg("", "user", admin)
		}
		update = bson.M{"$addToSet": bson.M{"admins": admin}}
	} else {
		if !isAdmin {
			return errs.ErrNotAdmin.WrapMsg("", "user", admin)
		}
		update = bson.M{"$pull": bson.M{"admins": admin}}
	}
	_, err = s.groups().UpdateOne(ctx, bson.M{"group_id": groupID}, update)
	return errors.Wrap(err, "set admin")
}

func (s *mongoStore) DeleteGroup(ctx context.Context, groupID msg.GroupID, acting msg.UserID) (*GroupInfo, error) {
	g, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.Owner != acting {
		return nil, errs.ErrNotOwner.WrapMsg("", "user", acting)
	}
	if _, err := s.groups().DeleteOne(ctx, bson.M{"group_id": groupID}); err != nil {
		return nil, errors.Wrap(err, "delete group")
	}
	return g, nil
}
