package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/handler"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/outcome"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/ws"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRegisterMiddleware(t *testing.T) {
	engine := gin.New()
	New(engine).RegisterMiddleware()
	assert.Len(t, engine.Handlers, 4)
}

func TestRegisterRoutes(t *testing.T) {
	engine := gin.New()
	r := New(engine)
	r.RegisterMiddleware()
	r.RegisterRoutes(Handlers{
		Health: handler.NewHealthHandler(nil),
		Bet:    handler.NewBetHandler(nil, nil),
		Query:  handler.NewQueryHandler(outcome.NewCalculator(0), nil, nil, common.Address{}),
		WS:     ws.NewHandler(ws.NewHub(), ws.Config{}),
	})

	routes := make(map[string]bool)
	for _, ri := range engine.Routes() {
		routes[ri.Method+" "+ri.Path] = true
	}
	for _, want := range []string{
		"GET /health/live",
		"GET /health/ready",
		"GET /healthz",
		"GET /metrics",
		"GET /api/v1/state",
		"POST /api/v1/bets",
		"POST /api/v1/reset",
		"GET /api/v1/outcome",
		"GET /api/v1/history",
		"GET /api/v1/vault",
		"GET /api/v1/vault/history",
		"GET /api/v1/journal",
		"GET /api/v1/journal/:bet_id",
		"GET /ws",
	} {
		assert.True(t, routes[want], want)
	}
	assert.False(t, routes["GET /api/v1/reveals"])
	assert.False(t, routes["GET /api/v1/session"])

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "clawdice_http_requests_total")
}
