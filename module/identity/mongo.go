package identity

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	msg "telethu/module/message"
	"telethu/tools/errs"
)

const (
	colUsers       = "users"
	colFriendships = "friendships"
	colGroups      = "groups"
	colMessages    = "messages"
)

type mongoStore struct {
	db *mongo.Database
}

// NewMongoStore Mongo 实现
func NewMongoStore(db *mongo.Database) Store {
	return &mongoStore{db: db}
}

type userDoc struct {
	UserID msg.UserID `bson:"user_id"`
	Name   string     `bson:"name"`
	Avatar string     `bson:"avatar"`
	Email  string     `bson:"email"`
}

type friendshipDoc struct {
	User1 msg.UserID  `bson:"user1"` // 最近一次状态变更的发起方
	User2 msg.UserID  `bson:"user2"`
	State FriendState `bson:"state"`
}

func pairFilter(a, b msg.UserID) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"user1": a, "user2": b},
		bson.M{"user1": b, "user2": a},
	}}
}

func (s *mongoStore) FriendsOf(ctx context.Context, userID msg.UserID) ([]msg.UserID, error) {
	cur, err := s.db.Collection(colFriendships).Find(ctx, bson.M{
		"$or":   bson.A{bson.M{"user1": userID}, bson.M{"user2": userID}},
		"state": FriendAccepted,
	})
	if err != nil {
		return nil, errors.Wrap(err, "query friendships")
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []msg.UserID
	seen := make(map[msg.UserID]struct{})
	for cur.Next(ctx) {
		var doc friendshipDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode friendship")
		}
		friend := doc.User1
		if friend == userID {
			friend = doc.User2
		}
		if _, ok := seen[friend]; !ok {
			seen[friend] = struct{}{}
			out = append(out, friend)
		}
	}
	return out, cur.Err()
}

// FriendshipState 返回 (状态, 状态发起方, 是否存在)
func (s *mongoStore) FriendshipState(ctx context.Context, a, b msg.UserID) (FriendState, msg.UserID, bool, error) {
	var doc friendshipDoc
	err := s.db.Collection(colFriendships).FindOne(ctx, pairFilter(a, b)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, errors.Wrap(err, "query friendship")
	}
	return doc.State, doc.User1, true, nil
}

// MutateFriendship 单条 upsert：读改写在一次 FindOneAndUpdate 里完成，
// 两端设备同时 accept/block 不会互相覆盖丢更新。
func (s *mongoStore) MutateFriendship(ctx context.Context, acting, other msg.UserID, state FriendState) error {
	if acting == other {
		return errs.ErrSelfTarget.WrapMsg("", "user", acting)
	}
	n, err := s.db.Collection(colUsers).CountDocuments(ctx, bson.M{"user_id": other})
	if err != nil {
		return errors.Wrap(err, "lookup user")
	}
	if n == 0 {
		return errs.ErrUserNotFound.WrapMsg("", "user", other)
	}

	opts := options.FindOneAndUpdate().SetUpsert(true)
	res := s.db.Collection(colFriendships).FindOneAndUpdate(ctx,
		pairFilter(acting, other),
		bson.M{"$set": bson.M{"user1": acting, "user2": other, "state": state}},
		opts,
	)
	if res.Err() != nil && res.Err() != mongo.ErrNoDocuments {
		return errors.Wrap(res.Err(), "mutate friendship")
	}
	return nil
}

func (s *mongoStore) UsersMeta(ctx context.Context, ids []msg.UserID) ([]msg.UserData, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := s.db.Collection(colUsers).Find(ctx, bson.M{"user_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, errors.Wrap(err, "query users")
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []msg.UserData
	for cur.Next(ctx) {
		var doc userDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode user")
		}
		out = append(out, msg.UserData{
			ID: doc.UserID, Name: doc.Name, Avatar: doc.Avatar,
			Email: doc.Email, Category: "user",
		})
	}
	return out, cur.Err()
}

func (s *mongoStore) PatchProfile(ctx context.Context, userID msg.UserID, patch msg.ProfileContent) error {
	set := bson.M{}
	if patch.Name != "" {
		set["name"] = patch.Name
	}
	if patch.Avatar != "" {
		set["avatar"] = patch.Avatar
	}
	if patch.Email != "" {
		set["email"] = patch.Email
	}
	if len(set) == 0 {
		return nil
	}
	res, err := s.db.Collection(colUsers).UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{"$set": set})
	if err != nil {
		return errors.Wrap(err, "patch profile")
	}
	if res.MatchedCount == 0 {
		return errs.ErrUserNotFound.WrapMsg("", "user", userID)
	}
	return nil
}
