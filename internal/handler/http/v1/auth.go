package v1

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shenikar/emergency_response_system/internal/models"
	"github.com/shenikar/emergency_response_system/internal/service"
	"github.com/sirupsen/logrus"
)

const (
	callerKey       = "caller"
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// RequestIDMiddleware присваивает запросу идентификатор (или берёт X-Request-ID клиента)
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

// LoggerMiddleware пишет одну структурированную запись на запрос
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"request_id": c.GetString(requestIDKey),
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("Request failed")
			return
		}
		entry.Info("Request handled")
	}
}

// TimeoutMiddleware ограничивает время обработки запроса через дедлайн контекста
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// JWTAuthMiddleware - middleware для аутентификации по Bearer токену.
// Проверка роли выполняется в сервисах: вызывающий передаётся в каждую операцию явно.
func JWTAuthMiddleware(auth service.AuthService, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			log.WithField("request_id", c.GetString(requestIDKey)).Warn("Bearer token missing from request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "authorization required"})
			return
		}

		caller, err := auth.ParseToken(strings.TrimSpace(token))
		if err != nil {
			log.WithField("request_id", c.GetString(requestIDKey)).WithError(err).Warn("Invalid bearer token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: service.MessageOf(err)})
			return
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

// callerFrom возвращает вызывающего, установленного JWTAuthMiddleware
func callerFrom(c *gin.Context) models.Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(models.Caller); ok {
			return caller
		}
	}
	return models.Caller{}
}
