package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/browserbox/internal/apikey"
	"github.com/GriffinCanCode/browserbox/internal/shared/errs"
)

// KeyHeader carries the control API key.
const KeyHeader = "X-API-Key"

// SubjectKey is the gin context key holding the authenticated key id
// ("master" for the configured master key).
const SubjectKey = "auth.subject"

// KeyValidator checks generated API keys.
type KeyValidator interface {
	Validate(key string) (apikey.APIKey, error)
}

// AuthConfig configures API key authentication.
type AuthConfig struct {
	// MasterKey is accepted in addition to generated keys. When it is
	// empty authentication is disabled.
	MasterKey string
	Keys      KeyValidator
	// OnFailure observes rejected requests, e.g. for metrics.
	OnFailure func()
}

// APIKey rejects requests without a valid key with 401.
func APIKey(cfg AuthConfig) gin.HandlerFunc {
	master := []byte(cfg.MasterKey)

	return func(c *gin.Context) {
		if len(master) == 0 {
			c.Set(SubjectKey, "anonymous")
			c.Next()
			return
		}

		key := c.GetHeader(KeyHeader)
		if key != "" && subtle.ConstantTimeCompare([]byte(key), master) == 1 {
			c.Set(SubjectKey, "master")
			c.Next()
			return
		}
		if key != "" && cfg.Keys != nil {
			if info, err := cfg.Keys.Validate(key); err == nil {
				c.Set(SubjectKey, info.ID)
				c.Next()
				return
			}
		}

		if cfg.OnFailure != nil {
			cfg.OnFailure()
		}
		msg := "invalid or expired API key"
		if key == "" {
			msg = "API key required"
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": msg,
			"kind":  errs.KindOf(errs.ErrAuthFailure),
		})
	}
}
