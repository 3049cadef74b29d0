// Package middleware provides shared HTTP middleware.
//
// LoginRateLimit throttles credential attempts per tenant and client IP.
// Limits are counted in Redis so every instance shares them; when Redis is
// unreachable each instance falls back to an in-process token bucket.
//
//	config := middleware.LoginRateLimitConfig(10)
//	limit := middleware.NewLoginRateLimit(
//		middleware.NewDistributedRateLimiter(redisClient, config, "ratelimit"),
//		config,
//		metrics,
//	)
//	router.Handle("/auth/login", limit.Handler(loginHandler))
//
// Rejected requests get 429 with a Retry-After header and increment
// gatehouse_login_rate_limited_total.
package middleware
