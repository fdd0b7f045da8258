package authentication

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/mehmetcc/session-token-service/internal/utils"
)

func TestClientRateLimiterAllow(t *testing.T) {
	clock := utils.NewManualClock(epoch)
	l := NewClientRateLimiter(1, 2, clock)

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))

	clock.Advance(time.Second)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestClientRateLimiterDropsIdleBuckets(t *testing.T) {
	clock := utils.NewManualClock(epoch)
	l := NewClientRateLimiter(1, 1, clock)

	l.Allow("10.0.0.1")
	clock.Advance(limiterIdleTTL + time.Minute)
	l.Allow("10.0.0.2")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.buckets, "10.0.0.1")
	assert.Contains(t, l.buckets, "10.0.0.2")
}

func TestClientRateLimiterMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewClientRateLimiter(1, 1, utils.NewManualClock(epoch))
	r := gin.New()
	r.POST("/limited", l.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/limited", nil)
		req.RemoteAddr = "192.0.2.10:4321"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, send().Code)
	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
