package handler

import (
	"net/http"

	"cdef-ta-go/internal/service"
	"cdef-ta-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DoubtHandler 负责同步答疑 API。流式答疑见 ChatHandler。
type DoubtHandler struct {
	workflow service.WorkflowService
}

// NewDoubtHandler 创建一个新的 DoubtHandler 实例。
func NewDoubtHandler(workflow service.WorkflowService) *DoubtHandler {
	return &DoubtHandler{workflow: workflow}
}

// AskRequest 定义了答疑 API 的请求体结构。
type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

// Ask 回答一个自由提问。离题问题由模型侧的范围约束拒答。
func (h *DoubtHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：question 不能为空",
		})
		return
	}

	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无法获取用户信息"})
		return
	}

	answer, err := h.workflow.AskDoubt(c.Request.Context(), user.ID, req.Question)
	if err != nil {
		log.Warnf("AskDoubt failed for user %d: %v", user.ID, err)
		respondFlowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"answer": answer},
	})
}
