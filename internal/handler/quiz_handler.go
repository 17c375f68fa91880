package handler

import (
	"errors"
	"io"
	"net/http"

	"cdef-ta-go/internal/model"
	"cdef-ta-go/internal/service"
	"cdef-ta-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// QuizHandler 负责测验流程相关的 API。
type QuizHandler struct {
	quizService service.QuizService
}

// NewQuizHandler 创建一个新的 QuizHandler 实例。
func NewQuizHandler(quizService service.QuizService) *QuizHandler {
	return &QuizHandler{quizService: quizService}
}

// GenerateQuizRequest 定义了出题 API 的请求体结构。
type GenerateQuizRequest struct {
	Unit     string `json:"unit" binding:"required"`
	Topic    string `json:"topic" binding:"required"`
	QuizType string `json:"quizType" binding:"required"`
	Count    int    `json:"count"`
}

// Generate 生成一套新测验。旧测验（含其作答文件）会被整体替换。
func (h *QuizHandler) Generate(c *gin.Context) {
	var req GenerateQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：unit、topic、quizType 不能为空",
		})
		return
	}

	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无法获取用户信息"})
		return
	}

	view, err := h.quizService.Generate(c.Request.Context(), user.ID, service.QuizRequest{
		Unit:     req.Unit,
		Topic:    req.Topic,
		QuizType: req.QuizType,
		Count:    req.Count,
	})
	if err != nil {
		log.Warnf("GenerateQuiz failed for user %d, topic '%s': %v", user.ID, req.Topic, err)
		if _, ok := service.KindOf(err); ok {
			respondFlowError(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": view})
}

// Current 返回进行中的测验视图。
func (h *QuizHandler) Current(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无法获取用户信息"})
		return
	}

	view, err := h.quizService.Current(c.Request.Context(), user.ID)
	if err != nil {
		if errors.Is(err, service.ErrNoActiveQuiz) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": view})
}

// AnswerRequest 定义了客观题作答 API 的请求体结构。
type AnswerRequest struct {
	QuestionIndex int `json:"questionIndex"`
	ChoiceIndex   int `json:"choiceIndex"`
}

// Answer 记录一次客观题选择。重复提交覆盖之前的选择。
func (h *QuizHandler) Answer(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载",
		})
		return
	}

	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无法获取用户信息"})
		return
	}

	view, err := h.quizService.SelectAnswer(c.Request.Context(), user.ID, req.QuestionIndex, req.ChoiceIndex)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, service.ErrNoActiveQuiz) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"code": status, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": view})
}

// UploadArtifact 接收手写作答的图片或 PDF。替换上传会释放旧文件。
func (h *QuizHandler) UploadArtifact(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无法获取用户信息"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "缺少上传文件",
		})
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无法读取上传文件"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无法读取上传文件"})
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	view, err := h.quizService.UploadArtifact(c.Request.Context(), user.ID, fileHeader.Filename, mimeType, data)
	if err != nil {
		log.Warnf("UploadArtifact failed for user %d, file '%s': %v", user.ID, fileHeader.Filename, err)
		if errors.Is(err, service.ErrNoActiveQuiz) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": err.Error()})
			return
		}
		respondFlowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": view})
}

// Grade 显式触发判分。失败时作答文件保留，可直接重试。
func (h *QuizHandler) Grade(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无法获取用户信息"})
		return
	}

	report, err := h.quizService.Grade(c.Request.Context(), user.ID)
	if err != nil {
		log.Warnf("Grade failed for user %d: %v", user.ID, err)
		if errors.Is(err, service.ErrNoActiveQuiz) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": err.Error()})
			return
		}
		if _, ok := service.KindOf(err); ok {
			respondFlowError(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gradeReportView(report),
	})
}

// gradeReportView 展开判分报告，保持字段命名与其他接口一致。
func gradeReportView(report *model.GradeReport) gin.H {
	return gin.H{
		"score":    report.Score,
		"total":    report.Total,
		"summary":  report.Summary,
		"feedback": report.Feedback,
	}
}
