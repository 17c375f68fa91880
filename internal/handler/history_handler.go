package handler

import (
	"net/http"
	"strconv"
	"strings"

	"cdef-ta-go/internal/service"
	"cdef-ta-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// HistoryHandler 负责聊天历史的查询、清空与检索 API。
type HistoryHandler struct {
	workflow service.WorkflowService
}

// NewHistoryHandler 创建一个新的 HistoryHandler 实例。
func NewHistoryHandler(workflow service.WorkflowService) *HistoryHandler {
	return &HistoryHandler{workflow: workflow}
}

// Get 返回当前用户的完整聊天历史。
// degraded 为 true 表示历史存储曾不可达，本次会话的历史可能不完整。
func (h *HistoryHandler) Get(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无法获取用户信息"})
		return
	}

	messages, degraded := h.workflow.History(c.Request.Context(), user.ID)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"messages": messages,
			"degraded": degraded,
		},
	})
}

// Clear 清空当前用户的聊天历史。操作是幂等的。
func (h *HistoryHandler) Clear(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无法获取用户信息"})
		return
	}

	if err := h.workflow.ClearHistory(c.Request.Context(), user.ID); err != nil {
		log.Warnf("ClearHistory failed for user %d: %v", user.ID, err)
		respondFlowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "History cleared",
	})
}

// Search 在当前用户的历史消息上做关键词检索。
func (h *HistoryHandler) Search(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无法获取用户信息"})
		return
	}

	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "查询关键词不能为空",
		})
		return
	}
	size, _ := strconv.Atoi(c.Query("size"))

	results, err := h.workflow.SearchHistory(c.Request.Context(), user.ID, query, size)
	if err != nil {
		log.Warnf("SearchHistory failed for user %d: %v", user.ID, err)
		c.JSON(http.StatusBadGateway, gin.H{
			"code":    http.StatusBadGateway,
			"message": "检索服务暂不可用",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    results,
	})
}
