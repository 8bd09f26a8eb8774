package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordHTTPRequest("GET", "/", "200", time.Millisecond)
		m.SetComponentState("display", "Running", []string{"Running"})
		m.IncRestarts("browser")
		m.IncAuthFailures()
		m.BridgeOpened()
		m.AddBridgeBytes("upstream", 10)
		m.RecordLeaseEvent("granted")
	})
}

func TestIndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.IncRestarts("browser")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Restarts.WithLabelValues("browser")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Restarts.WithLabelValues("browser")))
}

func TestSetComponentStateIsExclusive(t *testing.T) {
	m := NewMetrics()
	all := []string{"Starting", "Running", "Failed"}

	m.SetComponentState("display", "Starting", all)
	m.SetComponentState("display", "Running", all)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.ComponentState.WithLabelValues("display", "Starting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ComponentState.WithLabelValues("display", "Running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ComponentState.WithLabelValues("display", "Failed")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/status/processes/:name", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	for _, name := range []string{"display", "browser"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status/processes/"+name, nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/status/processes/:name", "200")))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "browserbox_http_requests_total")
	assert.Contains(t, w.Body.String(), "browserbox_uptime_seconds")
}
