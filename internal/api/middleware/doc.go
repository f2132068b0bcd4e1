// Package middleware provides the HTTP middleware mounted on a participant's
// status server.
//
//   - CORS: read-only cross-origin access for dashboards
//   - RateLimit: per-IP token bucket, idle clients evicted
//   - GlobalRateLimit: one token bucket for every client
//
// Example:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
