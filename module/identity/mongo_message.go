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

func (s *mongoStore) messages() *mongo.Collection { return s.db.Collection(colMessages) }

// InsertMessage storaged 落库入口，按 message_id 幂等（at-least-once 消费会重放）
func (s *mongoStore) InsertMessage(ctx context.Context, rec *MessageRecord) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.messages().ReplaceOne(ctx, bson.M{"message_id": rec.MessageID}, rec, opts)
	return errors.Wrap(err, "insert message")
}

func (s *mongoStore) GetMessage(ctx context.Context, id msg.MessageID) (*MessageRecord, error) {
	var rec MessageRecord
	err := s.messages().FindOne(ctx, bson.M{"message_id": id}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrMessageNotFound.WrapMsg("", "message", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query message")
	}
	return &rec, nil
}

// MarkRead 追加已读人，返回更新后的记录（要拿原始 sender/receiver 做回执路由）
func (s *mongoStore) MarkRead(ctx context.Context, id msg.MessageID, reader msg.UserID) (*MessageRecord, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var rec MessageRecord
	err := s.messages().FindOneAndUpdate(ctx,
		bson.M{"message_id": id},
		bson.M{"$addToSet": bson.M{"who_read": reader}},
		opts,
	).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrMessageNotFound.WrapMsg("", "message", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "mark read")
	}
	return &rec, nil
}

func (s *mongoStore) SetMessageStatus(ctx context.Context, id msg.MessageID, status string) error {
	res, err := s.messages().UpdateOne(ctx,
		bson.M{"message_id": id},
		bson.M{"$set": bson.M{"status": status}},
	)
	if err != nil {
		return errors.Wrap(err, "set message status")
	}
	if res.MatchedCount == 0 {
		return errs.ErrMessageNotFound.WrapMsg("", "message", id)
	}
	return nil
}

func (s *mongoStore) EditMessageBody(ctx context.Context, id msg.MessageID, body string) error {
	res, err := s.messages().UpdateOne(ctx,
		bson.M{"message_id": id},
		bson.M{"$set": bson.M{"content": body, "status": "edited"}},
	)
	if err != nil {
		return errors.Wrap(err, "edit message")
	}
	if res.MatchedCount == 0 {
		return errs.ErrMessageNotFound.WrapMsg("", "message", id)
	}
	return nil
}

// PinMessage 置顶/取消置顶，owner/admin 才能操作，消息必须属于这个群
func (s *mongoStore) PinMessage(ctx context.Context, groupID msg.GroupID, id msg.MessageID, acting msg.UserID, add bool) error {
	g, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if !g.IsOwnerOrAdmin(acting) {
		return errs.ErrNotOwnerAdmin.WrapMsg("", "user", acting)
	}
	rec, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if rec.Target != msg.TargetGroup || rec.Receiver != groupID {
		return errs.ErrMessageNotFound.WithDetail("message not in group")
	}
	pinned := false
	for _, p := range g.Pinned {
		if p == id {
			pinned = true
			break
		}
	}
	var update bson.M
	if add {
		if pinned {
			return errs.ErrAlreadyPinned.WrapMsg("", "message", id)
		}
		update = bson.M{"$addToSet": bson.M{"pinned": id}}
	} else {
		if !pinned {
			return errs.ErrNotPinned.WrapMsg("", "message", id)
		}
		update = bson.M{"$pull": bson.M{"pinned": id}}
	}
	_, err = s.groups().UpdateOne(ctx, bson.M{"group_id": groupID}, update)
	return errors.Wrap(err, "pin message")
}
