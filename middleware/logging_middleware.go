package middleware

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"lite-rpc/message"
)

// Logging records every invocation with its duration and outcome.
func Logging() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			if resp.Code != message.CodeSuccess {
				log.Warn("invocation failed",
					"service", req.ServiceName, "method", req.MethodName,
					"code", resp.Code, "message", resp.Message,
					"duration", time.Since(start))
			} else {
				log.Debug("invocation",
					"service", req.ServiceName, "method", req.MethodName,
					"duration", time.Since(start))
			}
			return resp
		}
	}
}
