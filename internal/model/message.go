package model

import "time"

// 消息角色。历史记录只允许这两种角色。
const (
	RoleUser = "user"
	RoleAI   = "ai"
)

// ChatMessage 代表聊天历史中的单条消息。创建之后不可变。
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// EsMessage 是索引到 Elasticsearch 的消息文档。
type EsMessage struct {
	MessageID string    `json:"message_id"`
	UserID    uint      `json:"user_id"`
	Role      string    `json:"role"`
	Topic     string    `json:"topic,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
