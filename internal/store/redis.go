package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-game-session/internal/session"
)

// statusTTL 狀態 key 的存活時間，程序崩潰後殘留的狀態會自然過期
const statusTTL = 24 * time.Hour

// RedisStatusStore 以 Redis Hash 儲存玩家狀態
//
//	player:{username} → {status, updated_at}
type RedisStatusStore struct {
	client *redis.Client
}

// NewRedisStatusStore 創建 Redis 狀態儲存
func NewRedisStatusStore(client *redis.Client) *RedisStatusStore {
	return &RedisStatusStore{client: client}
}

func playerKey(username string) string {
	return fmt.Sprintf("player:%s", username)
}

// SetStatus 設定玩家狀態；inactive 直接刪除 key
func (s *RedisStatusStore) SetStatus(ctx context.Context, username string, status session.Status) error {
	key := playerKey(username)

	if status == session.StatusInactive {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("delete status: %w", err)
		}
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"status":     string(status),
		"updated_at": time.Now().UnixMilli(),
	})
	pipe.Expire(ctx, key, statusTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// Status 查詢玩家狀態，key 不存在時為 inactive
func (s *RedisStatusStore) Status(ctx context.Context, username string) (session.Status, error) {
	val, err := s.client.HGet(ctx, playerKey(username), "status").Result()
	if errors.Is(err, redis.Nil) {
		return session.StatusInactive, nil
	}
	if err != nil {
		return "", fmt.Errorf("get status: %w", err)
	}
	return session.Status(val), nil
}
