package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"restoerp/server/internal/services"
)

var errDatabaseUnavailable = errors.New("PostgreSQL не подключен")

// respondError переводит ошибку сервиса в HTTP ответ.
// Неизвестные ошибки логируются и отдаются как 500
func respondError(c *gin.Context, message string, err error) {
	status := http.StatusInternalServerError
	switch services.KindOf(err) {
	case services.KindNotFound:
		status = http.StatusNotFound
	case services.KindConflict:
		status = http.StatusConflict
	case services.KindBadRequest:
		status = http.StatusBadRequest
	default:
		zap.S().Errorw("❌ "+message, "path", c.Request.URL.Path, "error", err)
	}

	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

// bindJSON разбирает тело запроса и отвечает 400 при ошибке
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Неверный формат запроса",
			"details": err.Error(),
		})
		return false
	}
	return true
}
