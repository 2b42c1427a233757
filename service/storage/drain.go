package storage

import (
	"context"
	"encoding/json"

	"telethu/logger"
	"telethu/module/identity"
	msg "telethu/module/message"
	"telethu/service/kafka"
)

// Drain 永久存储的落库端：消费网关发到存储 topic 的信封，写成消息记录。
// 网关发布在投递之前，所以这里看到的帧一定过了授权门。

// RecordFromEnvelope 信封转消息记录。正文统一序列化成字符串存储。
func RecordFromEnvelope(env *msg.Envelope) (*identity.MessageRecord, error) {
	body := ""
	if env.Content != nil {
		if s, ok := env.Content.(string); ok {
			body = s
		} else {
			raw, err := json.Marshal(env.Content)
			if err != nil {
				return nil, err
			}
			body = string(raw)
		}
	}
	return &identity.MessageRecord{
		MessageID: env.MessageID,
		Kind:      env.Kind,
		Target:    env.Target,
		Time:      env.Time,
		Content:   body,
		Sender:    env.Sender,
		Receiver:  env.Receiver,
		Info:      env.Info,
		WhoRead:   env.WhoRead,
	}, nil
}

// DrainHandler 存储 topic 的消费回调。
// 返回错误不 commit offset，靠重复消费重试；幂等由按 message_id 覆盖写保证。
// 解析不动的帧是毒消息，记日志后跳过。
func DrainHandler(store identity.Store) kafka.MessageHandler {
	return func(topic string, key, value []byte) error {
		env, err := msg.Parse(value)
		if err != nil {
			logger.Warnf("[drain] malformed frame topic=%s key=%s err=%v", topic, key, err)
			return nil
		}
		if env.IsAck() || !env.Kind.IsStorable() {
			return nil
		}
		rec, err := RecordFromEnvelope(env)
		if err != nil {
			logger.Warnf("[drain] encode body id=%d err=%v", env.MessageID, err)
			return nil
		}
		if err := store.InsertMessage(context.Background(), rec); err != nil {
			logger.Errorf("[drain] insert id=%d err=%v", rec.MessageID, err)
			return err
		}
		return nil
	}
}
