package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/GriffinCanCode/browserbox/internal/apikey"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/tracing"
)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestCORS(t *testing.T) {
	router := setupTestRouter()
	router.Use(CORS(DefaultCORSConfig()))
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	tests := []struct {
		name           string
		method         string
		origin         string
		wantStatus     int
		wantCORSHeader bool
	}{
		{
			name:           "simple GET request with origin",
			method:         "GET",
			origin:         "http://localhost:3000",
			wantStatus:     http.StatusOK,
			wantCORSHeader: true,
		},
		{
			name:           "preflight OPTIONS request",
			method:         "OPTIONS",
			origin:         "http://localhost:3000",
			wantStatus:     http.StatusNoContent,
			wantCORSHeader: true,
		},
		{
			name:       "no origin header",
			method:     "GET",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/status", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.method == "OPTIONS" {
				req.Header.Set("Access-Control-Request-Method", "POST")
				req.Header.Set("Access-Control-Request-Headers", KeyHeader)
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCORSHeader {
				assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestDefaultCORSConfig(t *testing.T) {
	cfg := DefaultCORSConfig()

	assert.Contains(t, cfg.AllowOrigins, "*")
	assert.Contains(t, cfg.AllowMethods, "DELETE")
	assert.Contains(t, cfg.AllowHeaders, KeyHeader)
	assert.Contains(t, cfg.ExposeHeaders, tracing.Header)
	assert.False(t, cfg.AllowCredentials, "wildcard origins cannot carry credentials")
	assert.Equal(t, 12*time.Hour, cfg.MaxAge)
}

func TestRateLimit(t *testing.T) {
	router := setupTestRouter()
	router.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))
	router.GET("/status", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(ip string) int {
		req := httptest.NewRequest("GET", "/status", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("192.168.1.1"))
	assert.Equal(t, http.StatusOK, do("192.168.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("192.168.1.1"), "burst exhausted")
	assert.Equal(t, http.StatusOK, do("192.168.1.2"), "other clients keep their own bucket")
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()

	assert.Equal(t, 100, cfg.RequestsPerSecond)
	assert.Equal(t, 200, cfg.Burst)
}

func TestAPIKey(t *testing.T) {
	store, err := apikey.NewStore(apikey.Options{Cost: bcrypt.MinCost})
	require.NoError(t, err)
	generated, info, err := store.Generate(time.Hour)
	require.NoError(t, err)
	revokedKey, revoked, err := store.Generate(time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Revoke(revoked.ID))

	failures := 0
	router := setupTestRouter()
	router.Use(APIKey(AuthConfig{MasterKey: "master-secret", Keys: store, OnFailure: func() { failures++ }}))
	router.POST("/lease", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(SubjectKey))
	})

	tests := []struct {
		name        string
		key         string
		wantStatus  int
		wantSubject string
	}{
		{name: "missing", wantStatus: http.StatusUnauthorized},
		{name: "master", key: "master-secret", wantStatus: http.StatusOK, wantSubject: "master"},
		{name: "master prefix", key: "master-secre", wantStatus: http.StatusUnauthorized},
		{name: "generated", key: generated, wantStatus: http.StatusOK, wantSubject: info.ID},
		{name: "revoked", key: revokedKey, wantStatus: http.StatusUnauthorized},
		{name: "garbage", key: "bbx_nope", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/lease", nil)
			if tt.key != "" {
				req.Header.Set(KeyHeader, tt.key)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantSubject, w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), "AuthFailure")
			}
		})
	}
	assert.Equal(t, 4, failures)
}

func TestAPIKeyDisabledWithoutMasterKey(t *testing.T) {
	router := setupTestRouter()
	router.Use(APIKey(AuthConfig{}))
	router.POST("/lease", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/lease", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func BenchmarkRateLimit(b *testing.B) {
	router := setupTestRouter()
	router.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 1 << 30, Burst: 1 << 30}))
	router.GET("/status", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/status", nil)
	req.RemoteAddr = "192.168.1.1:1234"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}
}
