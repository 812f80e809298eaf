package middleware

import (
	"context"
	"time"

	"lite-rpc/message"
)

// Timeout bounds handler execution. The handler goroutine keeps running
// after the deadline; only the response is abandoned. Handlers should
// also watch ctx.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.Fail("request timed out")
			}
		}
	}
}
