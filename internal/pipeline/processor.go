// Package pipeline 定义了参考文档文本提取的后台处理流程。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"cdef-ta-go/internal/config"
	"cdef-ta-go/internal/repository"
	"cdef-ta-go/internal/service"
	"cdef-ta-go/pkg/log"
	"cdef-ta-go/pkg/storage"
	"cdef-ta-go/pkg/tasks"
)

// Processor 封装了文档提取任务的所有依赖和逻辑。
type Processor struct {
	tikaClient service.TextExtractor
	docRepo    repository.DocumentRepository
	minioCfg   config.MinIOConfig
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(tikaClient service.TextExtractor, docRepo repository.DocumentRepository, minioCfg config.MinIOConfig) *Processor {
	return &Processor{
		tikaClient: tikaClient,
		docRepo:    docRepo,
		minioCfg:   minioCfg,
	}
}

// Process 是文档提取任务的主函数。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentExtractionTask) error {
	log.Infof("[Processor] 开始处理参考文档, DocumentID: %d, FileName: %s", task.DocumentID, task.FileName)

	// 1. 从 MinIO 下载文档
	data, err := storage.GetObjectBytes(ctx, p.minioCfg.BucketName, task.ObjectName)
	if err != nil {
		log.Errorf("[Processor] 从MinIO下载文档失败, Object: %s, Error: %v", task.ObjectName, err)
		return fmt.Errorf("从 MinIO 下载文档失败: %w", err)
	}
	if len(data) == 0 {
		log.Warnf("[Processor] 文档 '%s' 内容为空, 处理中止", task.FileName)
		p.markFailed(task.DocumentID)
		return errors.New("文档内容为空")
	}

	// 2. 使用 Tika 提取文本
	textContent, err := p.tikaClient.ExtractText(ctx, bytes.NewReader(data), task.FileName)
	if err != nil {
		log.Errorf("[Processor] 使用Tika提取文本失败, FileName: %s, Error: %v", task.FileName, err)
		p.markFailed(task.DocumentID)
		return fmt.Errorf("使用 Tika 提取文本失败: %w", err)
	}
	if strings.TrimSpace(textContent) == "" {
		log.Warnf("[Processor] Tika提取的文本内容为空, 处理中止, FileName: %s", task.FileName)
		p.markFailed(task.DocumentID)
		return errors.New("提取的文本内容为空")
	}
	log.Infof("[Processor] 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(textContent))

	// 3. 回写提取结果
	if err := p.docRepo.MarkReady(task.DocumentID, textContent); err != nil {
		log.Errorf("[Processor] 保存提取文本失败, DocumentID: %d, Error: %v", task.DocumentID, err)
		return fmt.Errorf("保存提取文本失败: %w", err)
	}

	log.Infof("[Processor] 参考文档处理完成, DocumentID: %d", task.DocumentID)
	return nil
}

func (p *Processor) markFailed(docID uint) {
	if err := p.docRepo.MarkFailed(docID); err != nil {
		log.Warnf("[Processor] 更新文档状态为失败时出错 (doc=%d): %v", docID, err)
	}
}
