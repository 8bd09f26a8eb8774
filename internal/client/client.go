package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/GriffinCanCode/browserbox/internal/api/middleware"
	"github.com/GriffinCanCode/browserbox/internal/apikey"
	controlapi "github.com/GriffinCanCode/browserbox/internal/http"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/browserbox/internal/shared/errs"
	"github.com/GriffinCanCode/browserbox/internal/shared/id"
)

// APIError is a non-2xx answer from the control port.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Kind    string `json:"kind"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("control API: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("control API: %d: %s", e.Status, e.Message)
}

// Unwrap maps the reported kind back onto the error taxonomy.
func (e *APIError) Unwrap() error {
	switch e.Kind {
	case "LeaseConflict":
		return errs.ErrLeaseConflict
	case "AuthFailure":
		return errs.ErrAuthFailure
	case "NotHolder":
		return errs.ErrNotHolder
	case "ShuttingDown":
		return errs.ErrShuttingDown
	}
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// ErrNotFound means the addressed component, viewer or key does not exist.
var ErrNotFound = errors.New("not found")

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retries int
	Logger  *logging.Logger
}

// Client talks to a session's control port.
type Client struct {
	resty *resty.Client
	opts  Options
	log   *logging.Logger
}

// New creates a control client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	log := opts.Logger.Component("client")

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	r := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("User-Agent", "browserbox-cli/1.0").
		SetError(&APIError{})
	r.SetTransport(retryClient.HTTPClient.Transport)
	if opts.APIKey != "" {
		r.SetHeader(middleware.KeyHeader, opts.APIKey)
	}
	r.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		tracing.Outgoing(req.Context(), func(k, v string) { req.SetHeader(k, v) })
		return nil
	})

	return &Client{resty: r, opts: opts, log: log}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.resty.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr, _ := resp.Error().(*APIError)
		if apiErr == nil {
			apiErr = &APIError{}
		}
		apiErr.Status = resp.StatusCode()
		return apiErr
	}
	return nil
}

// Status returns the full session status.
func (c *Client) Status(ctx context.Context) (*controlapi.StatusResponse, error) {
	var out controlapi.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Healthy reports whether every autostart component is up.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable {
		return false, nil
	}
	return err == nil, err
}

// AcquireLease takes the automation lease. A zero ttl uses the server default.
func (c *Client) AcquireLease(ctx context.Context, clientID string, ttl time.Duration) (controlapi.LeaseResponse, error) {
	var out controlapi.LeaseResponse
	err := c.do(ctx, http.MethodPost, "/lease", leaseRequest(clientID, ttl), &out)
	return out, err
}

// RenewLease extends the lease held by clientID.
func (c *Client) RenewLease(ctx context.Context, clientID string, ttl time.Duration) (controlapi.LeaseResponse, error) {
	var out controlapi.LeaseResponse
	err := c.do(ctx, http.MethodPut, "/lease", leaseRequest(clientID, ttl), &out)
	return out, err
}

// ReleaseLease ends the lease held by clientID.
func (c *Client) ReleaseLease(ctx context.Context, clientID string) error {
	return c.do(ctx, http.MethodDelete, "/lease", leaseRequest(clientID, 0), nil)
}

func leaseRequest(clientID string, ttl time.Duration) controlapi.LeaseRequest {
	return controlapi.LeaseRequest{Client: clientID, TTLSeconds: int64(ttl / time.Second)}
}

// RequestInput gives a viewer input control.
func (c *Client) RequestInput(ctx context.Context, viewer id.ViewerID) error {
	return c.do(ctx, http.MethodPost, "/viewers/"+viewer.String()+"/input", nil, nil)
}

// ReleaseInput takes input control from a viewer.
func (c *Client) ReleaseInput(ctx context.Context, viewer id.ViewerID) error {
	return c.do(ctx, http.MethodDelete, "/viewers/"+viewer.String()+"/input", nil, nil)
}

// Restart forces a component restart.
func (c *Client) Restart(ctx context.Context, component string) error {
	return c.do(ctx, http.MethodPost, "/processes/"+component+"/restart", nil, nil)
}

// Recover re-arms a failed component.
func (c *Client) Recover(ctx context.Context, component string) error {
	return c.do(ctx, http.MethodPost, "/processes/"+component+"/recover", nil, nil)
}

// CreateKey issues an API key. A zero expiry uses the server default.
func (c *Client) CreateKey(ctx context.Context, expiresIn time.Duration) (controlapi.KeyResponse, error) {
	var out controlapi.KeyResponse
	body := map[string]int{"expires_in_seconds": int(expiresIn / time.Second)}
	err := c.do(ctx, http.MethodPost, "/keys", body, &out)
	return out, err
}

// ListKeys lists active keys.
func (c *Client) ListKeys(ctx context.Context) ([]apikey.APIKey, error) {
	var out struct {
		Keys []apikey.APIKey `json:"keys"`
	}
	err := c.do(ctx, http.MethodGet, "/keys", nil, &out)
	return out.Keys, err
}

// RotateKey replaces key with a new one.
func (c *Client) RotateKey(ctx context.Context, key string) (controlapi.KeyResponse, error) {
	var out controlapi.KeyResponse
	err := c.do(ctx, http.MethodPost, "/keys/rotate", map[string]string{"key": key}, &out)
	return out, err
}

// RevokeKey deactivates a key.
func (c *Client) RevokeKey(ctx context.Context, keyID string) error {
	return c.do(ctx, http.MethodDelete, "/keys/"+keyID, nil, nil)
}
