package handler

import (
	"net/http"

	"cdef-ta-go/internal/service"

	"github.com/gin-gonic/gin"
)

// failureStatus 把工作流错误类别映射为 HTTP 状态码。
func failureStatus(err error) int {
	kind, ok := service.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case service.AuthenticationFailure:
		return http.StatusUnauthorized
	case service.ArtifactFailure:
		return http.StatusBadRequest
	case service.GenerationFailure, service.ExtractionFailure, service.PersistenceFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondFlowError 用统一格式返回工作流错误。
func respondFlowError(c *gin.Context, err error) {
	status := failureStatus(err)
	c.JSON(status, gin.H{
		"code":    status,
		"message": err.Error(),
	})
}
