// Package security holds the security helpers shared by the grant engine and its HTTP
// surface: expiry checks with clock-skew grace, audit logging with hashed principals,
// per-identifier rate limiting, client IP extraction, request ids and response headers.
//
// Rate limiting uses one token bucket per identifier, tracked in an LRU so memory stays
// bounded under a distributed flood:
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(security.GetClientIP(r, false, 0)) {
//		w.Header().Set("Retry-After", strconv.Itoa(limiter.RetryAfter()))
//		w.WriteHeader(http.StatusTooManyRequests)
//		return
//	}
//
// The Auditor never writes principals in the clear; they are logged as the first
// 16 hex characters of their SHA-256 digest.
package security
