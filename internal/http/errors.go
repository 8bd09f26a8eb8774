package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/browserbox/internal/apikey"
	"github.com/GriffinCanCode/browserbox/internal/framebuffer"
	"github.com/GriffinCanCode/browserbox/internal/lease"
	"github.com/GriffinCanCode/browserbox/internal/shared/errs"
	"github.com/GriffinCanCode/browserbox/internal/supervisor"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrLeaseConflict),
		errors.Is(err, framebuffer.ErrInputHeld),
		errors.Is(err, supervisor.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, errs.ErrNotHolder):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrAuthFailure):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrUnknownComponent),
		errors.Is(err, framebuffer.ErrUnknownViewer),
		errors.Is(err, apikey.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, lease.ErrInvalidClient):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func kindFor(err error) string {
	if kind := errs.KindOf(err); kind != "" {
		return kind
	}
	switch {
	case errors.Is(err, errs.ErrNotHolder):
		return "NotHolder"
	case errors.Is(err, errs.ErrShuttingDown):
		return "ShuttingDown"
	}
	return ""
}

func respondError(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	body := gin.H{"error": err.Error()}
	if kind := kindFor(err); kind != "" {
		body["kind"] = kind
	}
	c.AbortWithStatusJSON(code, body)
}
