package service

import (
	"context"
	"fmt"
	"time"

	"cdef-ta-go/internal/config"
	"cdef-ta-go/internal/session"
	"cdef-ta-go/pkg/storage"
)

// ArtifactStore 管理用户上传的作答文件的生命周期：
// 上传时获取句柄，被替换或登出时释放，绝不跨会话泄漏。
type ArtifactStore interface {
	Save(ctx context.Context, userID uint, fileName, mimeType string, data []byte) (*session.ArtifactHandle, error)
	Fetch(ctx context.Context, handle *session.ArtifactHandle) ([]byte, error)
	Release(ctx context.Context, handle *session.ArtifactHandle) error
}

type minioArtifactStore struct {
	minioCfg config.MinIOConfig
}

// NewArtifactStore 创建一个 MinIO 实现的 ArtifactStore。
func NewArtifactStore(minioCfg config.MinIOConfig) ArtifactStore {
	return &minioArtifactStore{minioCfg: minioCfg}
}

// Save 将作答文件写入对象存储并返回句柄。
// 对象名带纳秒时间戳，同一用户的两次上传不会互相覆盖。
func (s *minioArtifactStore) Save(ctx context.Context, userID uint, fileName, mimeType string, data []byte) (*session.ArtifactHandle, error) {
	if len(data) == 0 {
		return nil, flowErr(ArtifactFailure, "上传的文件内容为空")
	}

	objectName := fmt.Sprintf("artifacts/%d/%d-%s", userID, time.Now().UnixNano(), fileName)
	if err := storage.PutObject(ctx, s.minioCfg.BucketName, objectName, data, mimeType); err != nil {
		return nil, flowErr(ArtifactFailure, "保存作答文件失败: %w", err)
	}

	return &session.ArtifactHandle{
		ObjectName: objectName,
		FileName:   fileName,
		MIMEType:   mimeType,
		UploadedAt: time.Now(),
	}, nil
}

// Fetch 读取句柄指向的文件内容，判分时调用。
func (s *minioArtifactStore) Fetch(ctx context.Context, handle *session.ArtifactHandle) ([]byte, error) {
	data, err := storage.GetObjectBytes(ctx, s.minioCfg.BucketName, handle.ObjectName)
	if err != nil {
		return nil, flowErr(ArtifactFailure, "读取作答文件失败: %w", err)
	}
	if len(data) == 0 {
		return nil, flowErr(ArtifactFailure, "作答文件内容为空")
	}
	return data, nil
}

// Release 删除句柄指向的存储对象。
func (s *minioArtifactStore) Release(ctx context.Context, handle *session.ArtifactHandle) error {
	return storage.RemoveObject(ctx, s.minioCfg.BucketName, handle.ObjectName)
}
