package kafka

import (
	"context"

	"github.com/Shopify/sarama"

	"telethu/logger"
)

// MessageHandler 处理一条消费到的消息；返回错误时只记日志不中断消费
type MessageHandler func(topic string, key, value []byte) error

type groupHandler struct {
	handler MessageHandler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.handler(msg.Topic, msg.Key, msg.Value); err != nil {
			logger.Errorf("[kafka] handle topic=%s partition=%d offset=%d err=%v",
				msg.Topic, msg.Partition, msg.Offset, err)
			// 不 mark，留给下一轮重投
			continue
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

// StartConsumerGroup 阻塞消费，直到 ctx 取消
func StartConsumerGroup(ctx context.Context, brokers []string, group string, topics []string, handler MessageHandler) error {
	cg, err := sarama.NewConsumerGroup(brokers, group, BuildBaseConfig())
	if err != nil {
		return err
	}
	defer func() { _ = cg.Close() }()

	go func() {
		for err := range cg.Errors() {
			logger.Errorf("[kafka] consumer group error: %v", err)
		}
	}()

	h := &groupHandler{handler: handler}
	for {
		if err := cg.Consume(ctx, topics, h); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
