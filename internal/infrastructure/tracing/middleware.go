package tracing

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/browserbox/internal/shared/id"
)

// HTTPMiddleware assigns every request an ID, echoes it in the response
// and logs the finished request.
func HTTPMiddleware(t *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if rid := c.GetHeader(Header); acceptable(rid) {
			ctx = WithRequestID(ctx, id.RequestID(rid))
		}

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := t.Start(ctx, c.Request.Method+" "+name)
		span.Tag("remote", c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		c.Header(Header, string(span.RequestID))

		c.Next()

		span.Status = c.Writer.Status()
		if len(c.Errors) > 0 {
			span.Err = c.Errors.Last()
		} else if span.Status >= 500 {
			span.Err = fmt.Errorf("status %d", span.Status)
		}
		t.Finish(span)
	}
}

func incoming(ctx context.Context) context.Context {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(metadataKey); len(vals) > 0 && acceptable(vals[0]) {
			return WithRequestID(ctx, id.RequestID(vals[0]))
		}
	}
	return ctx
}

// GRPCUnaryInterceptor traces unary calls.
func GRPCUnaryInterceptor(t *Tracer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		span, ctx := t.Start(incoming(ctx), info.FullMethod)
		resp, err := handler(ctx, req)
		span.Status = int(status.Code(err))
		span.Err = err
		t.Finish(span)
		return resp, err
	}
}

// GRPCStreamInterceptor traces streaming calls such as health watches.
func GRPCStreamInterceptor(t *Tracer) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		span, ctx := t.Start(incoming(ss.Context()), info.FullMethod)
		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
		span.Status = int(status.Code(err))
		span.Err = err
		t.Finish(span)
		return err
	}
}

type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }

// Outgoing copies the request ID in ctx into HTTP headers for downstream
// calls.
func Outgoing(ctx context.Context, set func(key, value string)) {
	if rid := RequestID(ctx); rid != "" {
		set(Header, string(rid))
	}
}

// GRPCUnaryClientInterceptor forwards the request ID in ctx as metadata.
func GRPCUnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if rid := RequestID(ctx); rid != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, metadataKey, string(rid))
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
