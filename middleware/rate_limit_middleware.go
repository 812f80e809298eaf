package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"lite-rpc/message"
)

// RateLimit rejects requests above the token-bucket rate with a FAIL
// response instead of queueing them.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.Fail("rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
