package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const NodeTypeGateway = "msgGateway" // 网关节点
const NodeTypeStorage = "storageNode"

// AppConfig 进程级配置。默认值面向本机开发，线上用环境变量覆盖。
type AppConfig struct {
	NodeType string
	NodeID   int64
	Port     int

	NatsServers []string

	KafkaBrokers []string
	StorageTopic string // 永久存储 topic（外部 storaged 消费）
	StorageGroup string // storaged 的 consumer group

	MongoURI      string
	MongoDatabase string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JwtSecret []byte

	// ack 策略：先投一次，超时重投，共 AckMaxAttempts 次机会
	AckTimeout     time.Duration
	AckMaxAttempts int

	// 自撤回窗口，按服务端消息时间戳比较
	RecallWindow time.Duration
}

var Global = AppConfig{
	NodeType:       NodeTypeGateway,
	NodeID:         1,
	Port:           8080,
	NatsServers:    []string{"nats://127.0.0.1:4222"},
	KafkaBrokers:   []string{"127.0.0.1:9092"},
	StorageTopic:   "perm_store",
	StorageGroup:   "telethu-storaged",
	MongoURI:       "mongodb://localhost:27017",
	MongoDatabase:  "telethu",
	RedisAddr:      "127.0.0.1:6379",
	RedisDB:        0,
	JwtSecret:      []byte("mN9b1f8zPq+W2xjX/45sKcVd0TfyoG+3Hp5Z8q9Rj1o="),
	AckTimeout:     8 * time.Second,
	AckMaxAttempts: 5,
	RecallWindow:   2 * time.Minute,
}

// Load 应用环境变量覆盖，进程启动时调用一次。
func Load() {
	if v := os.Getenv("TELETHU_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			Global.Port = n
		}
	}
	if v := os.Getenv("TELETHU_NODE_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			Global.NodeID = n
		}
	}
	if v := os.Getenv("TELETHU_NATS_SERVERS"); v != "" {
		Global.NatsServers = strings.Split(v, ",")
	}
	if v := os.Getenv("TELETHU_KAFKA_BROKERS"); v != "" {
		Global.KafkaBrokers = strings.Split(v, ",")
	}
	if v := os.Getenv("TELETHU_STORAGE_TOPIC"); v != "" {
		Global.StorageTopic = v
	}
	if v := os.Getenv("TELETHU_MONGO_URI"); v != "" {
		Global.MongoURI = v
	}
	if v := os.Getenv("TELETHU_MONGO_DB"); v != "" {
		Global.MongoDatabase = v
	}
	if v := os.Getenv("TELETHU_REDIS_ADDR"); v != "" {
		Global.RedisAddr = v
	}
	if v := os.Getenv("TELETHU_REDIS_PASSWORD"); v != "" {
		Global.RedisPassword = v
	}
	if v := os.Getenv("TELETHU_JWT_SECRET"); v != "" {
		Global.JwtSecret = []byte(v)
	}
}

func GetJwtSecret() []byte {
	return Global.JwtSecret
}
