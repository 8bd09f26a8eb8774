package client

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/tracing"
)

// Wait polls /health every interval until it answers 200 or ctx ends.
// Connection errors count as not ready.
func (c *Client) Wait(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = c.opts.Timeout
	rc.RetryMax = math.MaxInt32
	rc.Logger = retryLogger{c.log.Logger}
	rc.Backoff = func(_, _ time.Duration, _ int, _ *http.Response) time.Duration { return interval }
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		return resp.StatusCode != http.StatusOK, nil
	}
	rc.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
		if attempt > 0 {
			c.log.Debug("Session not ready yet", zap.Int("attempt", attempt))
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	tracing.Outgoing(ctx, req.Header.Set)

	resp, err := rc.Do(req)
	if err != nil {
		return fmt.Errorf("waiting for session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("waiting for session: health returned %d", resp.StatusCode)
	}
	return nil
}

// retryLogger adapts zap to retryablehttp's leveled logger.
type retryLogger struct{ log *zap.Logger }

func (l retryLogger) fields(kv []any) []zap.Field {
	out := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, zap.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}

func (l retryLogger) Error(msg string, kv ...any) { l.log.Error(msg, l.fields(kv)...) }
func (l retryLogger) Info(msg string, kv ...any)  { l.log.Info(msg, l.fields(kv)...) }
func (l retryLogger) Debug(msg string, kv ...any) { l.log.Debug(msg, l.fields(kv)...) }
func (l retryLogger) Warn(msg string, kv ...any)  { l.log.Warn(msg, l.fields(kv)...) }
