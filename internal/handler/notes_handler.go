package handler

import (
	"fmt"
	"net/http"
	"time"

	"cdef-ta-go/internal/service"
	"cdef-ta-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// NotesHandler 负责笔记生成与导出相关的 API。
type NotesHandler struct {
	workflow service.WorkflowService
}

// NewNotesHandler 创建一个新的 NotesHandler 实例。
func NewNotesHandler(workflow service.WorkflowService) *NotesHandler {
	return &NotesHandler{workflow: workflow}
}

// GenerateNotesRequest 定义了笔记生成 API 的请求体结构。
type GenerateNotesRequest struct {
	Unit  string `json:"unit" binding:"required"`
	Topic string `json:"topic" binding:"required"`
	// DocumentID 为 0 时使用默认参考资料
	DocumentID   uint   `json:"documentId"`
	WordTarget   int    `json:"wordTarget"`
	Instructions string `json:"instructions"`
}

// Generate 为指定主题生成学习笔记。
func (h *NotesHandler) Generate(c *gin.Context) {
	var req GenerateNotesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：unit 和 topic 不能为空",
		})
		return
	}

	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无法获取用户信息"})
		return
	}

	notes, err := h.workflow.GenerateNotes(c.Request.Context(), user.ID, service.NotesRequest{
		Unit:         req.Unit,
		Topic:        req.Topic,
		DocumentID:   req.DocumentID,
		WordTarget:   req.WordTarget,
		Instructions: req.Instructions,
	})
	if err != nil {
		log.Warnf("GenerateNotes failed for user %d, topic '%s': %v", user.ID, req.Topic, err)
		respondFlowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"notes": notes},
	})
}

// ExportRequest 定义了笔记导出 API 的请求体结构。
type ExportRequest struct {
	Markdown string `json:"markdown" binding:"required"`
	Topic    string `json:"topic"`
}

// Export 把 Markdown 笔记渲染为 PDF 并以附件形式下发。
func (h *NotesHandler) Export(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：markdown 不能为空",
		})
		return
	}

	pdfBytes, err := h.workflow.ExportNotesPDF(req.Markdown)
	if err != nil {
		log.Warnf("ExportNotesPDF failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "PDF 生成失败",
		})
		return
	}

	name := req.Topic
	if name == "" {
		name = "notes"
	}
	fileName := fmt.Sprintf("%s-%s.pdf", name, time.Now().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, fileName))
	c.Data(http.StatusOK, "application/pdf", pdfBytes)
}
