// Package tracing gives every control request and gRPC call a request ID
// and logs each finished operation with its duration and status.
//
// IDs arrive in the X-Request-ID header (x-request-id metadata for gRPC)
// or are generated. They are echoed back so clients can correlate their
// calls with server logs.
//
//	tracer := tracing.New(logger)
//	defer tracer.Close()
//	router.Use(tracing.HTTPMiddleware(tracer))
package tracing
