package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRecovery(t *testing.T) {
	engine := gin.New()
	engine.Use(Recovery())
	engine.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestTrace(t *testing.T) {
	engine := gin.New()
	engine.Use(Trace())
	var seen string
	engine.GET("/", func(c *gin.Context) {
		seen = c.GetString(TraceIDKey)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TraceIDHeader, "abc")
	engine.ServeHTTP(w, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", w.Header().Get(TraceIDHeader))

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, w.Header().Get(TraceIDHeader), 36)
	assert.Equal(t, seen, w.Header().Get(TraceIDHeader))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TraceIDHeader, strings.Repeat("x", 100))
	engine.ServeHTTP(w, req)
	assert.Len(t, w.Header().Get(TraceIDHeader), 36)
}

func TestLoggerAndMetrics(t *testing.T) {
	engine := gin.New()
	engine.Use(Logger(), Metrics())
	engine.GET("/api/v1/reveals/:bet_id", func(c *gin.Context) {
		_ = c.Error(assert.AnError)
		c.Status(http.StatusNotFound)
	})

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/reveals/:bet_id", "404")
	before := testutil.ToFloat64(counter)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/reveals/12", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
