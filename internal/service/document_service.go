package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"strings"

	"cdef-ta-go/internal/config"
	"cdef-ta-go/internal/model"
	"cdef-ta-go/internal/repository"
	"cdef-ta-go/pkg/log"
	"cdef-ta-go/pkg/storage"
	"cdef-ta-go/pkg/tasks"

	"gorm.io/gorm"
)

// SeedUserID 是启动时导入的默认参考资料的归属用户。
// 该"用户"不存在于 users 表中，其文档对所有用户可读。
const SeedUserID uint = 0

// ErrUnsupportedDocType 表示参考文档的文件类型不在支持列表内。
var ErrUnsupportedDocType = errors.New("不支持的参考文档类型")

// TextExtractor 是文档文本提取器的抽象，*tika.Client 是其生产实现。
type TextExtractor interface {
	ExtractText(ctx context.Context, fileReader io.Reader, fileName string) (string, error)
}

// TaskProducer 将文档提取任务投递到消息队列。
type TaskProducer func(task tasks.DocumentExtractionTask) error

// DocumentService 接口定义了参考文档相关的业务操作。
type DocumentService interface {
	// Upload 保存参考文档并触发异步文本提取。同一用户重复上传同一文件时幂等。
	Upload(ctx context.Context, userID uint, fileName string, data []byte) (*model.ReferenceDocument, error)
	List(ctx context.Context, userID uint) ([]model.ReferenceDocument, error)
	// ContextText 返回文档的提取文本，供笔记生成用作知识来源。
	// 异步提取尚未完成时退化为同步提取。
	ContextText(ctx context.Context, userID, docID uint) (string, error)
	// DefaultDocument 返回启动时导入的默认参考资料，没有则返回 nil。
	DefaultDocument(ctx context.Context) (*model.ReferenceDocument, error)
}

type documentService struct {
	docRepo   repository.DocumentRepository
	extractor TextExtractor
	produce   TaskProducer
	minioCfg  config.MinIOConfig
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(docRepo repository.DocumentRepository, extractor TextExtractor, produce TaskProducer, minioCfg config.MinIOConfig) DocumentService {
	return &documentService{
		docRepo:   docRepo,
		extractor: extractor,
		produce:   produce,
		minioCfg:  minioCfg,
	}
}

// Upload 保存参考文档并触发异步文本提取。
func (s *documentService) Upload(ctx context.Context, userID uint, fileName string, data []byte) (*model.ReferenceDocument, error) {
	if len(data) == 0 {
		return nil, flowErr(ExtractionFailure, "参考文档内容为空")
	}
	if !isSupportedDocument(fileName) {
		return nil, flowErr(ExtractionFailure, "%w: %s", ErrUnsupportedDocType, fileName)
	}

	fileMD5 := fmt.Sprintf("%x", md5.Sum(data))

	// 幂等检查：该用户已上传过同一文件则直接复用
	if existing, err := s.docRepo.FindByMD5AndUser(fileMD5, userID); err == nil {
		log.Infof("[DocumentService] 参考文档已存在，跳过上传: %s (md5=%s)", fileName, fileMD5)
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询参考文档记录失败: %w", err)
	}

	objectName := fmt.Sprintf("refdocs/%d/%s", userID, fileMD5)
	if err := storage.PutObject(ctx, s.minioCfg.BucketName, objectName, data, detectDocContentType(fileName)); err != nil {
		return nil, flowErr(ExtractionFailure, "保存参考文档失败: %w", err)
	}

	doc := &model.ReferenceDocument{
		FileMD5:    fileMD5,
		FileName:   fileName,
		ObjectName: objectName,
		UserID:     userID,
		Status:     model.DocStatusPending,
	}
	if err := s.docRepo.Create(doc); err != nil {
		return nil, fmt.Errorf("创建参考文档记录失败: %w", err)
	}

	// 投递异步提取任务；失败只记录，使用时会退化为同步提取
	task := tasks.DocumentExtractionTask{
		DocumentID: doc.ID,
		FileMD5:    fileMD5,
		ObjectName: objectName,
		FileName:   fileName,
		UserID:     userID,
	}
	if err := s.produce(task); err != nil {
		log.Warnf("[DocumentService] 投递文档提取任务失败 (doc=%d): %v", doc.ID, err)
	}

	return doc, nil
}

// List 返回用户自己的参考文档列表。
func (s *documentService) List(ctx context.Context, userID uint) ([]model.ReferenceDocument, error) {
	return s.docRepo.ListByUser(userID)
}

// ContextText 返回文档的提取文本。
func (s *documentService) ContextText(ctx context.Context, userID, docID uint) (string, error) {
	doc, err := s.docRepo.FindByID(docID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", flowErr(ExtractionFailure, "参考文档不存在")
		}
		return "", fmt.Errorf("查询参考文档失败: %w", err)
	}

	// 默认资料（SeedUserID）全员可读，其余文档仅属主可读
	if doc.UserID != SeedUserID && doc.UserID != userID {
		return "", flowErr(ExtractionFailure, "无权使用该参考文档")
	}

	if doc.Status == model.DocStatusReady && doc.ExtractedText != "" {
		return doc.ExtractedText, nil
	}

	// 异步提取未完成或失败：同步提取一次
	data, err := storage.GetObjectBytes(ctx, s.minioCfg.BucketName, doc.ObjectName)
	if err != nil {
		return "", flowErr(ExtractionFailure, "读取参考文档失败: %w", err)
	}
	text, err := s.extractor.ExtractText(ctx, bytes.NewReader(data), doc.FileName)
	if err != nil {
		return "", flowErr(ExtractionFailure, "提取参考文档文本失败: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", flowErr(ExtractionFailure, "参考文档未提取到任何文本")
	}

	if err := s.docRepo.MarkReady(doc.ID, text); err != nil {
		log.Warnf("[DocumentService] 回写提取文本失败 (doc=%d): %v", doc.ID, err)
	}
	return text, nil
}

// DefaultDocument 返回最近一份启动导入的默认参考资料。
func (s *documentService) DefaultDocument(ctx context.Context) (*model.ReferenceDocument, error) {
	docs, err := s.docRepo.ListByUser(SeedUserID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

// 参考文档允许的后缀。
var supportedDocExts = []string{".pdf", ".txt", ".md", ".doc", ".docx", ".ppt", ".pptx"}

func isSupportedDocument(fileName string) bool {
	lower := strings.ToLower(fileName)
	for _, ext := range supportedDocExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func detectDocContentType(fileName string) string {
	lower := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(lower, ".txt"), strings.HasSuffix(lower, ".md"):
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
