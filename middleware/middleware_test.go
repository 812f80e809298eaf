package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lite-rpc/message"
)

func okHandler(ctx context.Context, req *message.Request) *message.Response {
	resp, _ := message.Success("ok")
	return resp
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) *message.Response {
				order = append(order, name+"-before")
				resp := next(ctx, req)
				order = append(order, name+"-after")
				return resp
			}
		}
	}

	handler := Chain(mw("a"), mw("b"))(okHandler)
	resp := handler(context.Background(), &message.Request{})

	assert.Equal(t, message.CodeSuccess, resp.Code)
	assert.Equal(t, []string{"a-before", "b-before", "b-after", "a-after"}, order)
}

func TestRecoveryConvertsPanic(t *testing.T) {
	handler := Recovery()(func(ctx context.Context, req *message.Request) *message.Response {
		panic("kaboom")
	})
	resp := handler(context.Background(), &message.Request{ServiceName: "S", MethodName: "M"})
	assert.Equal(t, message.CodeFail, resp.Code)
	assert.Contains(t, resp.Message, "kaboom")
}

func TestTimeoutMiddleware(t *testing.T) {
	slow := func(ctx context.Context, req *message.Request) *message.Response {
		time.Sleep(200 * time.Millisecond)
		return okHandler(ctx, req)
	}
	handler := Timeout(50 * time.Millisecond)(slow)
	resp := handler(context.Background(), &message.Request{})
	assert.Equal(t, message.CodeFail, resp.Code)

	handler = Timeout(time.Second)(okHandler)
	resp = handler(context.Background(), &message.Request{})
	assert.Equal(t, message.CodeSuccess, resp.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimit(1, 2)(okHandler)
	var rejected int
	for i := 0; i < 10; i++ {
		if handler(context.Background(), &message.Request{}).Code != message.CodeSuccess {
			rejected++
		}
	}
	assert.Greater(t, rejected, 0)
}

func TestLoggingPassesThrough(t *testing.T) {
	handler := Logging()(okHandler)
	resp := handler(context.Background(), &message.Request{ServiceName: "S", MethodName: "M"})
	assert.Equal(t, message.CodeSuccess, resp.Code)
}
