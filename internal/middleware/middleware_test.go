package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expressmail/backend/internal/monitoring"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.POST("/echo", func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		c.String(http.StatusOK, string(body))
	})
	return r
}

func TestAdminKey(t *testing.T) {
	r := newEngine(AdminKey("super-secret-admin-key", nil))

	tests := []struct {
		name   string
		key    string
		status int
	}{
		{"缺少密钥", "", http.StatusUnauthorized},
		{"密钥错误", "wrong", http.StatusForbidden},
		{"密钥正确", "super-secret-admin-key", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tt.key != "" {
				req.Header.Set(AdminKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestAdminKey_EmptyConfiguredKeyRejectsAll(t *testing.T) {
	r := newEngine(AdminKey("", nil))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(AdminKeyHeader, "anything")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	r := newEngine(SecurityHeaders(), RequestID())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
}

func TestBodySizeLimit(t *testing.T) {
	r := newEngine(BodySizeLimit(8))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "small", rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("this body is too large")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRateLimitByIP(t *testing.T) {
	limiter := NewIPRateLimiter(2)
	r := newEngine(RateLimitByIP(limiter))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// 其他 IP 不受影响
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "198.51.100.1:1234"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, limiter.Len())
}

func TestIPRateLimiter_Cleanup(t *testing.T) {
	limiter := NewIPRateLimiter(10)
	require.True(t, limiter.Allow("203.0.113.7"))

	limiter.cleanup(time.Now().Add(5 * time.Minute))
	assert.Equal(t, 1, limiter.Len())

	limiter.cleanup(time.Now().Add(time.Hour))
	assert.Equal(t, 0, limiter.Len())
}

func TestMonitoringMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetricsWithRegistry(reg, reg)
	mm := NewMonitoringMiddleware(metrics, nil)

	r := gin.New()
	r.Use(mm.HTTPMetrics(), mm.PanicRecovery())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/ping", "200")))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PanicsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/boom", "500")))
}

func TestRecoveryHandler(t *testing.T) {
	r := gin.New()
	r.Use(RecoveryHandler(nil))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "服务器内部错误")
}
