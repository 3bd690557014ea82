package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"treasuryarena/internal/logger"
)

// requestLogger writes one line per request at a level matching the status.
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithComponent("api").WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("Ошибка обработки запроса.")
		case status >= 400:
			entry.Warn("Запрос отклонён.")
		default:
			entry.Debug("Запрос обработан.")
		}
	}
}
