package tracing

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
)

func TestHTTPMiddlewareRequestIDs(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.DebugLevel)
	tracer := New(logging.Wrap(zap.New(core)))

	var seen string
	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.GET("/status", func(c *gin.Context) {
		seen = string(RequestID(c.Request.Context()))
		c.Status(http.StatusOK)
	})
	router.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	tests := []struct {
		name     string
		path     string
		inbound  string
		wantEcho bool
	}{
		{name: "generated", path: "/status"},
		{name: "propagated", path: "/status", inbound: "caller-123", wantEcho: true},
		{name: "rejected", path: "/status", inbound: strings.Repeat("x", 200)},
		{name: "failure", path: "/boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.inbound != "" {
				req.Header.Set(Header, tt.inbound)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			got := w.Header().Get(Header)
			require.NotEmpty(t, got)
			if tt.wantEcho {
				assert.Equal(t, tt.inbound, got)
			} else {
				assert.NotEqual(t, tt.inbound, got)
				assert.True(t, strings.HasPrefix(got, "req_"))
			}
			if tt.path == "/status" {
				assert.Equal(t, got, seen)
			}
		})
	}

	tracer.Close()
	require.Equal(t, len(tests), logs.Len())
	failed := logs.FilterMessage("Request failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "GET /boom", failed[0].ContextMap()["operation"])
}

func TestFinishAfterCloseIsDropped(t *testing.T) {
	tracer := New(nil)
	tracer.Close()
	tracer.Close()

	span, _ := tracer.Start(t.Context(), "late")
	assert.NotPanics(t, func() { tracer.Finish(span) })
}
