package localservice

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lite-rpc/message"
)

type greeter struct{}

func (g *greeter) Hello(name string) string { return "hello " + name }

func (g *greeter) Sum(a, b int) (int, error) { return a + b, nil }

func (g *greeter) Boom() error { return errors.New("boom") }

func rawParams(t *testing.T, params ...any) []json.RawMessage {
	t.Helper()
	var out []json.RawMessage
	for _, p := range params {
		raw, err := json.Marshal(p)
		require.NoError(t, err)
		out = append(out, raw)
	}
	return out
}

func TestFactoryLookupChain(t *testing.T) {
	f := NewFactory()
	local := &greeter{}
	fallback := &greeter{}

	key := message.ServiceKey("Greeter", "1.0.0", "")
	assert.Nil(t, f.Get(key))

	f.RegisterFallback("Greeter", fallback)
	assert.Same(t, fallback, f.GetWithFallback(key, "Greeter"))

	f.RegisterLocal("Greeter", "1.0.0", "", local)
	assert.Same(t, local, f.Get(key))
	assert.Same(t, local, f.GetWithFallback(key, "Greeter"))

	// Unknown everything yields the synthetic default.
	_, isZero := f.GetWithFallback("Nope_1.0.0_", "Nope").(ZeroService)
	assert.True(t, isZero)
}

func TestInvokeMapsSignatures(t *testing.T) {
	g := &greeter{}

	out, err := Invoke(g, "Hello", rawParams(t, "world"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)

	out, err = Invoke(g, "Sum", rawParams(t, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, 5, out)

	_, err = Invoke(g, "Boom", nil)
	assert.EqualError(t, err, "boom")
}

func TestInvokeErrors(t *testing.T) {
	g := &greeter{}

	_, err := Invoke(g, "Missing", nil)
	assert.Error(t, err)

	_, err = Invoke(g, "Hello", rawParams(t, "a", "b"))
	assert.Error(t, err)

	_, err = Invoke(g, "Sum", rawParams(t, "not a number", 3))
	assert.Error(t, err)
}
