package handler

import (
	"net/http"

	"cdef-ta-go/internal/curriculum"

	"github.com/gin-gonic/gin"
)

// CurriculumHandler 提供课程大纲的只读查询。
type CurriculumHandler struct {
	cur *curriculum.Curriculum
}

// NewCurriculumHandler 创建一个新的 CurriculumHandler 实例。
func NewCurriculumHandler(cur *curriculum.Curriculum) *CurriculumHandler {
	return &CurriculumHandler{cur: cur}
}

// unitEntry 是单元及其主题列表的下发结构。
type unitEntry struct {
	Unit   string   `json:"unit"`
	Topics []string `json:"topics"`
}

// List 返回全部单元与主题，按大纲固定顺序。
func (h *CurriculumHandler) List(c *gin.Context) {
	units := h.cur.Units()
	entries := make([]unitEntry, 0, len(units))
	for _, u := range units {
		topics, _ := h.cur.Topics(u)
		entries = append(entries, unitEntry{Unit: u, Topics: topics})
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    entries,
	})
}

// Topics 返回指定单元的主题列表。
func (h *CurriculumHandler) Topics(c *gin.Context) {
	unit := c.Query("unit")
	topics, ok := h.cur.Topics(unit)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    http.StatusNotFound,
			"message": "未知的单元: " + unit,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    topics,
	})
}
