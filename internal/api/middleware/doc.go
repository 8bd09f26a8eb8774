// Package middleware provides the gin middleware of the control API.
//
//   - CORS: cross-origin access for browser dashboards
//   - RateLimit: per-IP token buckets
//   - APIKey: X-API-Key authentication against the master key and
//     generated keys
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
//	admin := router.Group("/", middleware.APIKey(middleware.AuthConfig{MasterKey: key, Keys: store}))
package middleware
