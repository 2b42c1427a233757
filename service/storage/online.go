package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"telethu/logger"
	rds "telethu/service/storage/redis"
)

// 在线状态：user -> 存活 session 集合。多端各占一个 session，
// 网关节点共享同一份 Redis 视图。

const (
	onlineKeyPrefix = "online:user:"
	sessionTTL      = 2 * time.Hour
)

type OnlineManager struct{}

var (
	onlineOnce sync.Once
	onlineMgr  *OnlineManager
)

func GetManager() *OnlineManager {
	onlineOnce.Do(func() {
		onlineMgr = &OnlineManager{}
	})
	return onlineMgr
}

func onlineKey(userID string) string {
	return fmt.Sprintf("%s%s", onlineKeyPrefix, userID)
}

// Online 标记一个 session 上线
func (m *OnlineManager) Online(ctx context.Context, userID, sessionID string) error {
	key := onlineKey(userID)
	pipe := rds.GetRedis().TxPipeline()
	pipe.SAdd(ctx, key, sessionID)
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	logger.Infof("[online] user=%s session=%s up", userID, sessionID)
	return nil
}

// Offline 标记一个 session 下线；最后一个 session 走掉后清 key
func (m *OnlineManager) Offline(ctx context.Context, userID, sessionID string) error {
	key := onlineKey(userID)
	if err := rds.GetRedis().SRem(ctx, key, sessionID).Err(); err != nil {
		return err
	}
	logger.Infof("[online] user=%s session=%s down", userID, sessionID)
	return nil
}

// Sessions 查询用户当前存活的 session 列表
func (m *OnlineManager) Sessions(ctx context.Context, userID string) ([]string, error) {
	return rds.GetRedis().SMembers(ctx, onlineKey(userID)).Result()
}

// IsOnline 用户是否至少有一个存活 session
func (m *OnlineManager) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := rds.GetRedis().SCard(ctx, onlineKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Touch 心跳续期
func (m *OnlineManager) Touch(ctx context.Context, userID string) error {
	return rds.GetRedis().Expire(ctx, onlineKey(userID), sessionTTL).Err()
}
