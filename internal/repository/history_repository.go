package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"cdef-ta-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// HistoryRepository 定义了按用户存储聊天历史的操作接口。
// 历史是追加式的：单条消息只增不改，仅支持整体清空。
type HistoryRepository interface {
	// Append 追加一条消息。用户从未出现过时透明地创建其历史。
	Append(ctx context.Context, userID uint, message model.ChatMessage) error
	// Load 返回用户的完整历史；没有任何记录时返回空切片而不是错误。
	Load(ctx context.Context, userID uint) ([]model.ChatMessage, error)
	// Clear 清空用户历史，对不存在的历史调用是无操作。
	Clear(ctx context.Context, userID uint) error
}

type redisHistoryRepository struct {
	redisClient *redis.Client
}

// NewHistoryRepository 创建一个新的 HistoryRepository 实例。
func NewHistoryRepository(redisClient *redis.Client) HistoryRepository {
	return &redisHistoryRepository{redisClient: redisClient}
}

func historyKey(userID uint) string {
	return fmt.Sprintf("chat:history:%d", userID)
}

// Append 将消息序列化后 RPUSH 到用户的历史列表。
// RPUSH 对不存在的 key 会自动创建，插入顺序即时间顺序。
func (r *redisHistoryRepository) Append(ctx context.Context, userID uint, message model.ChatMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}
	if err := r.redisClient.RPush(ctx, historyKey(userID), data).Err(); err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

// Load 读取用户的完整历史。
func (r *redisHistoryRepository) Load(ctx context.Context, userID uint) ([]model.ChatMessage, error) {
	entries, err := r.redisClient.LRange(ctx, historyKey(userID), 0, -1).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	messages := make([]model.ChatMessage, 0, len(entries))
	for _, entry := range entries {
		var msg model.ChatMessage
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Clear 删除用户的历史列表。DEL 对不存在的 key 是无操作，因此天然幂等。
func (r *redisHistoryRepository) Clear(ctx context.Context, userID uint) error {
	if err := r.redisClient.Del(ctx, historyKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear chat history: %w", err)
	}
	return nil
}
