package kafka

// Sink 把路由器的永久存储发布绑到一个固定 topic。
// key 按会话分区，保证同会话消息在 storaged 侧有序。
type Sink struct {
	Topic string
}

func NewSink(topic string) *Sink { return &Sink{Topic: topic} }

func (s *Sink) Publish(key string, data []byte) error {
	return SendSync(s.Topic, key, data)
}
