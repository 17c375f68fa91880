package repository

import (
	"time"

	"cdef-ta-go/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 定义了参考文档记录的持久化操作。
type DocumentRepository interface {
	Create(doc *model.ReferenceDocument) error
	FindByID(docID uint) (*model.ReferenceDocument, error)
	FindByMD5AndUser(fileMD5 string, userID uint) (*model.ReferenceDocument, error)
	ListByUser(userID uint) ([]model.ReferenceDocument, error)
	// MarkReady 写入提取出的文本并将状态置为已就绪。
	MarkReady(docID uint, text string) error
	// MarkFailed 将状态置为提取失败。
	MarkFailed(docID uint) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(doc *model.ReferenceDocument) error {
	return r.db.Create(doc).Error
}

func (r *documentRepository) FindByID(docID uint) (*model.ReferenceDocument, error) {
	var doc model.ReferenceDocument
	if err := r.db.First(&doc, docID).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) FindByMD5AndUser(fileMD5 string, userID uint) (*model.ReferenceDocument, error) {
	var doc model.ReferenceDocument
	err := r.db.Where("file_md5 = ? AND user_id = ?", fileMD5, userID).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) ListByUser(userID uint) ([]model.ReferenceDocument, error) {
	var docs []model.ReferenceDocument
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&docs).Error
	return docs, err
}

func (r *documentRepository) MarkReady(docID uint, text string) error {
	now := time.Now()
	return r.db.Model(&model.ReferenceDocument{}).Where("id = ?", docID).Updates(map[string]interface{}{
		"status":         model.DocStatusReady,
		"extracted_text": text,
		"extracted_at":   &now,
	}).Error
}

func (r *documentRepository) MarkFailed(docID uint) error {
	return r.db.Model(&model.ReferenceDocument{}).Where("id = ?", docID).
		Update("status", model.DocStatusFailed).Error
}
