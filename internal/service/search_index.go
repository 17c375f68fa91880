package service

import (
	"context"
	"fmt"
	"time"

	"cdef-ta-go/internal/config"
	"cdef-ta-go/internal/model"
	"cdef-ta-go/pkg/es"
)

// SearchIndex 是消息检索索引的抽象。索引写入是尽力而为的：
// 失败只影响检索，绝不影响生成流程。
type SearchIndex interface {
	IndexMessage(ctx context.Context, userID uint, topic string, msg model.ChatMessage) error
	DeleteUser(ctx context.Context, userID uint) error
	Search(ctx context.Context, userID uint, query string, size int) ([]model.EsMessage, error)
}

type esSearchIndex struct {
	indexName string
}

// NewSearchIndex 创建基于 Elasticsearch 的消息检索索引。
func NewSearchIndex(cfg config.ElasticsearchConfig) SearchIndex {
	return &esSearchIndex{indexName: cfg.IndexName}
}

func (s *esSearchIndex) IndexMessage(ctx context.Context, userID uint, topic string, msg model.ChatMessage) error {
	doc := model.EsMessage{
		// 时间戳+用户ID 作为文档 ID，避免引入额外的 uuid 依赖
		MessageID: fmt.Sprintf("%d-%d", time.Now().UnixNano(), userID),
		UserID:    userID,
		Role:      msg.Role,
		Topic:     topic,
		Content:   msg.Content,
		CreatedAt: msg.Timestamp,
	}
	return es.IndexMessage(ctx, s.indexName, doc)
}

func (s *esSearchIndex) DeleteUser(ctx context.Context, userID uint) error {
	return es.DeleteUserMessages(ctx, s.indexName, userID)
}

func (s *esSearchIndex) Search(ctx context.Context, userID uint, query string, size int) ([]model.EsMessage, error) {
	return es.SearchMessages(ctx, s.indexName, userID, query, size)
}
