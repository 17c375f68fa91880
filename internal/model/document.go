package model

import "time"

// 参考文档提取状态。
const (
	DocStatusPending = 0
	DocStatusReady   = 1
	DocStatusFailed  = 2
)

// ReferenceDocument 对应于数据库中的 'reference_documents' 表。
// 记录用户上传的参考资料及其文本提取状态，提取出的文本供笔记生成使用。
type ReferenceDocument struct {
	ID            uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	FileMD5       string     `gorm:"type:varchar(32);not null;index" json:"fileMd5"`
	FileName      string     `gorm:"type:varchar(255);not null" json:"fileName"`
	ObjectName    string     `gorm:"type:varchar(255);not null" json:"-"`
	UserID        uint       `gorm:"not null;index" json:"userId"`
	Status        int        `gorm:"type:tinyint;not null;default:0" json:"status"`
	ExtractedText string     `gorm:"type:longtext" json:"-"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	ExtractedAt   *time.Time `gorm:"default:null" json:"extractedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ReferenceDocument) TableName() string {
	return "reference_documents"
}
