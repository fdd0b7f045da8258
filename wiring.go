package main

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mehmetcc/session-token-service/internal/refreshtoken"
	"github.com/mehmetcc/session-token-service/internal/utils"
)

// newRecordRepository builds the configured refresh token backend. The
// returned func releases whatever connection the backend owns.
func newRecordRepository(cfg *utils.Config, db *gorm.DB, clock utils.Clock) (refreshtoken.RecordRepository, func(), error) {
	switch cfg.Store.Backend {
	case utils.StoreBackendPostgres:
		return refreshtoken.NewRecordRepository(db), func() {}, nil
	case utils.StoreBackendRedis:
		client, err := utils.InitRedis(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return refreshtoken.NewRedisRepository(client, clock, ""), func() { _ = client.Close() }, nil
	case utils.StoreBackendMemory:
		return refreshtoken.NewMemoryRepository(clock), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown REFRESH_STORE %q", utils.ErrInvalidConfig, cfg.Store.Backend)
	}
}

// requestLogger replaces gin.Logger with structured access logs.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
