package middleware

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"lite-rpc/message"
)

// Recovery converts a panicking handler into a FAIL response. A panic must
// never tear down the connection the request arrived on.
func Recovery() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (resp *message.Response) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic", "service", req.ServiceName, "method", req.MethodName, "panic", r)
					resp = message.Fail(fmt.Sprintf("handler panic: %v", r))
				}
			}()
			return next(ctx, req)
		}
	}
}
