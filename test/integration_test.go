package test

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lite-rpc/client"
	"lite-rpc/loadbalance"
	"lite-rpc/middleware"
	"lite-rpc/registry"
	"lite-rpc/server"
)

type Args struct {
	A, B int
}

type Arith struct{}

func (a *Arith) Add(args Args) int { return args.A + args.B }

func (a *Arith) Multiply(args Args) int { return args.A * args.B }

func (a *Arith) Greet(name string) string { return "hello " + name }

func freePort(t testing.TB) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// Full chain: registry server → provider (heartbeat-enabled registry
// session) → consumer lookup → framed request → reflection dispatch →
// typed façade result.
func TestFullIntegration(t *testing.T) {
	regPort := freePort(t)
	regServer := registry.NewRegistryServer(regPort, false)
	require.NoError(t, regServer.Start())
	defer regServer.Shutdown()
	regAddr := "127.0.0.1:" + strconv.Itoa(regPort)

	providerReg, err := registry.NewRemoteServiceRegistry(regAddr, true)
	require.NoError(t, err)
	srv := server.NewServerWith("127.0.0.1", freePort(t), providerReg)
	srv.Use(middleware.Recovery())
	srv.Use(middleware.Logging())
	require.NoError(t, srv.RegisterService(&Arith{}, server.ServiceOptions{Name: "Arith"}))
	require.NoError(t, srv.Start())
	defer srv.Shutdown(2 * time.Second)

	consumerReg, err := registry.NewRemoteServiceRegistry(regAddr, false)
	require.NoError(t, err)
	c := client.NewRpcClientWith(consumerReg, &loadbalance.RandomBalancer{})
	defer c.Close()

	proxy := client.NewProxy(c, "Arith", client.DefaultReferenceConfig(), nil, nil)

	sum := client.Invoke[int](proxy, "Add", Args{A: 3, B: 5})
	assert.Equal(t, 8, sum)

	product := client.Invoke[int](proxy, "Multiply", Args{A: 4, B: 6})
	assert.Equal(t, 24, product)

	greeting := client.Invoke[string](proxy, "Greet", "world")
	assert.Equal(t, "hello world", greeting)
}

// Concurrent calls multiplex over the cached session and every caller sees
// its own answer.
func TestConcurrentCalls(t *testing.T) {
	regPort := freePort(t)
	regServer := registry.NewRegistryServer(regPort, false)
	require.NoError(t, regServer.Start())
	defer regServer.Shutdown()
	regAddr := "127.0.0.1:" + strconv.Itoa(regPort)

	providerReg, err := registry.NewRemoteServiceRegistry(regAddr, true)
	require.NoError(t, err)
	srv := server.NewServerWith("127.0.0.1", freePort(t), providerReg)
	require.NoError(t, srv.RegisterService(&Arith{}, server.ServiceOptions{Name: "Arith"}))
	require.NoError(t, srv.Start())
	defer srv.Shutdown(2 * time.Second)

	consumerReg, err := registry.NewRemoteServiceRegistry(regAddr, false)
	require.NoError(t, err)
	c := client.NewRpcClientWith(consumerReg, &loadbalance.RandomBalancer{})
	defer c.Close()
	proxy := client.NewProxy(c, "Arith", client.DefaultReferenceConfig(), nil, nil)

	const n = 20
	results := make(chan [2]int, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			got := client.Invoke[int](proxy, "Add", Args{A: i, B: i})
			results <- [2]int{i, got}
		}(i)
	}
	for i := 0; i < n; i++ {
		pair := <-results
		assert.Equal(t, pair[0]*2, pair[1])
	}
}

// After the provider shuts down, lookups stop returning it and calls
// degrade to the friendly value.
func TestProviderShutdownDegradesGracefully(t *testing.T) {
	regPort := freePort(t)
	regServer := registry.NewRegistryServer(regPort, false)
	require.NoError(t, regServer.Start())
	defer regServer.Shutdown()
	regAddr := "127.0.0.1:" + strconv.Itoa(regPort)

	providerReg, err := registry.NewRemoteServiceRegistry(regAddr, true)
	require.NoError(t, err)
	srv := server.NewServerWith("127.0.0.1", freePort(t), providerReg)
	require.NoError(t, srv.RegisterService(&Arith{}, server.ServiceOptions{Name: "Arith"}))
	require.NoError(t, srv.Start())

	consumerReg, err := registry.NewRemoteServiceRegistry(regAddr, false)
	require.NoError(t, err)
	c := client.NewRpcClientWith(consumerReg, &loadbalance.RandomBalancer{})
	defer c.Close()

	cfg := client.DefaultReferenceConfig()
	cfg.Retries = 0
	proxy := client.NewProxy(c, "Arith", cfg, nil, nil)

	assert.Equal(t, 8, client.Invoke[int](proxy, "Add", Args{A: 3, B: 5}))

	require.NoError(t, srv.Shutdown(2*time.Second))

	greeting := client.Invoke[string](proxy, "Greet", "anyone")
	assert.Contains(t, greeting, "error: ")
}
