package tracing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/browserbox/internal/shared/id"
)

// Header carries the request ID on HTTP requests and responses.
const Header = "X-Request-ID"

// metadataKey carries the request ID in gRPC metadata.
const metadataKey = "x-request-id"

const maxRequestIDLen = 128

// Span is one timed operation.
type Span struct {
	RequestID id.RequestID
	Name      string
	Start     time.Time
	Duration  time.Duration
	Status    int
	Err       error
	fields    []zap.Field
}

// Tag attaches a field to the span's log line.
func (s *Span) Tag(key, value string) {
	s.fields = append(s.fields, zap.String(key, value))
}

// Tracer logs finished spans off the request path.
type Tracer struct {
	log   *logging.Logger
	spans chan *Span

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

// New creates a tracer and starts its collector.
func New(log *logging.Logger) *Tracer {
	if log == nil {
		log = logging.NewNop()
	}
	t := &Tracer{
		log:   log.Component("trace"),
		spans: make(chan *Span, 1000),
		done:  make(chan struct{}),
	}
	go t.collect()
	return t
}

// Start opens a span, reusing the request ID already in ctx.
func (t *Tracer) Start(ctx context.Context, name string) (*Span, context.Context) {
	rid := RequestID(ctx)
	if rid == "" {
		rid = id.NewRequestID()
		ctx = WithRequestID(ctx, rid)
	}
	return &Span{RequestID: rid, Name: name, Start: time.Now()}, ctx
}

// Finish stamps the duration and queues the span. Spans are dropped when
// the buffer is full or the tracer is closed.
func (t *Tracer) Finish(s *Span) {
	s.Duration = time.Since(s.Start)

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.spans <- s:
	default:
		t.log.Warn("Span buffer full, dropping span", zap.String("request_id", string(s.RequestID)))
	}
}

// Close drains queued spans and stops the collector.
func (t *Tracer) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.spans)
		t.mu.Unlock()
		<-t.done
	})
}

func (t *Tracer) collect() {
	defer close(t.done)
	for s := range t.spans {
		fields := append([]zap.Field{
			zap.String("request_id", string(s.RequestID)),
			zap.String("operation", s.Name),
			zap.Duration("duration", s.Duration),
			zap.Int("status", s.Status),
		}, s.fields...)

		if s.Err != nil {
			t.log.Warn("Request failed", append(fields, zap.Error(s.Err))...)
			continue
		}
		t.log.Debug("Request completed", fields...)
	}
}

type contextKey struct{}

// WithRequestID stores rid in ctx.
func WithRequestID(ctx context.Context, rid id.RequestID) context.Context {
	return context.WithValue(ctx, contextKey{}, rid)
}

// RequestID returns the request ID in ctx, or "".
func RequestID(ctx context.Context) id.RequestID {
	rid, _ := ctx.Value(contextKey{}).(id.RequestID)
	return rid
}

// acceptable reports whether an inbound request ID may be propagated.
func acceptable(rid string) bool {
	if rid == "" || len(rid) > maxRequestIDLen {
		return false
	}
	for _, r := range rid {
		if r < 0x21 || r > 0x7e {
			return false
		}
	}
	return true
}
