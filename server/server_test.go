package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lite-rpc/client"
	"lite-rpc/loadbalance"
	"lite-rpc/message"
	"lite-rpc/middleware"
	"lite-rpc/protocol"
	"lite-rpc/registry"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

type echoService struct{}

func (e *echoService) Say(text string) string { return "echo: " + text }

func (e *echoService) Fail() (string, error) {
	return "", assert.AnError
}

func startEchoServer(t *testing.T, reg registry.ServiceRegistry) *Server {
	t.Helper()
	srv := NewServerWith("127.0.0.1", freePort(t), reg)
	srv.Use(middleware.Recovery())
	srv.Use(middleware.Logging())
	require.NoError(t, srv.RegisterService(&echoService{}, ServiceOptions{Name: "Echo"}))
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Shutdown(2 * time.Second) })
	return srv
}

func sayRequest(t *testing.T, text string) *message.Request {
	t.Helper()
	req := &message.Request{ServiceName: "Echo", MethodName: "Say", Version: "1.0.0"}
	require.NoError(t, req.SetParameters(text))
	return req
}

func TestServerEndToEnd(t *testing.T) {
	reg := registry.NewLocalServiceRegistry()
	startEchoServer(t, reg)

	// The provider registered itself at start.
	instances, err := reg.Discover("Echo", "1.0.0", "")
	require.NoError(t, err)
	require.Len(t, instances, 1)

	c := client.NewRpcClientWith(reg, &loadbalance.RandomBalancer{})
	defer c.Close()

	awaiter, err := c.SendRequest(sayRequest(t, "hello"))
	require.NoError(t, err)
	resp, err := client.Await(awaiter, 2*time.Second)
	require.NoError(t, err)

	var data string
	require.NoError(t, resp.DecodeDataInto(&data))
	assert.Equal(t, "echo: hello", data)
}

// A failing invocation produces a FAIL response and leaves the connection
// usable for the next request.
func TestFailureKeepsConnectionOpen(t *testing.T) {
	reg := registry.NewLocalServiceRegistry()
	startEchoServer(t, reg)

	c := client.NewRpcClientWith(reg, &loadbalance.RandomBalancer{})
	defer c.Close()

	failReq := &message.Request{ServiceName: "Echo", MethodName: "Fail", Version: "1.0.0"}
	awaiter, err := c.SendRequest(failReq)
	require.NoError(t, err)
	_, err = client.Await(awaiter, 2*time.Second)
	var re *client.RemoteError
	require.ErrorAs(t, err, &re)

	// Same session still answers.
	awaiter, err = c.SendRequest(sayRequest(t, "again"))
	require.NoError(t, err)
	resp, err := client.Await(awaiter, 2*time.Second)
	require.NoError(t, err)
	var data string
	require.NoError(t, resp.DecodeDataInto(&data))
	assert.Equal(t, "echo: again", data)
}

// Heartbeat requests are answered with PONG and unknown message types are
// discarded without closing the connection.
func TestHeartbeatAndUnknownType(t *testing.T) {
	reg := registry.NewLocalServiceRegistry()
	srv := startEchoServer(t, reg)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	// Unknown type first: must be ignored.
	unknown := &message.Message{Type: message.Type(42), Serialization: message.SerializationJSON, RequestID: 1}
	require.NoError(t, protocol.WriteMessage(conn, unknown))

	ping, err := message.New(message.TypeHeartbeatRequest, 2, message.HeartbeatPing)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteMessage(conn, ping))

	reply, err := protocol.ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, message.TypeHeartbeatResponse, reply.Type)
	assert.Equal(t, uint64(2), reply.RequestID)
	var pong string
	require.NoError(t, reply.DecodeData(&pong))
	assert.Equal(t, message.HeartbeatPong, pong)
}

// Shutdown unregisters every service.
func TestShutdownUnregisters(t *testing.T) {
	reg := registry.NewLocalServiceRegistry()
	srv := NewServerWith("127.0.0.1", freePort(t), reg)
	require.NoError(t, srv.RegisterService(&echoService{}, ServiceOptions{Name: "Echo"}))
	require.NoError(t, srv.Start())

	instances, err := reg.Discover("Echo", "1.0.0", "")
	require.NoError(t, err)
	require.Len(t, instances, 1)

	require.NoError(t, srv.Shutdown(2*time.Second))
	instances, err = reg.Discover("Echo", "1.0.0", "")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

// Rate limiting rejects the burst overflow with a FAIL response.
func TestRateLimitMiddleware(t *testing.T) {
	reg := registry.NewLocalServiceRegistry()
	srv := NewServerWith("127.0.0.1", freePort(t), reg)
	srv.Use(middleware.RateLimit(1, 1))
	require.NoError(t, srv.RegisterService(&echoService{}, ServiceOptions{Name: "Echo"}))
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Shutdown(2 * time.Second) })

	c := client.NewRpcClientWith(reg, &loadbalance.RandomBalancer{})
	defer c.Close()

	var failed int
	for i := 0; i < 5; i++ {
		awaiter, err := c.SendRequest(sayRequest(t, "x"))
		require.NoError(t, err)
		if _, err := client.Await(awaiter, 2*time.Second); err != nil {
			failed++
		}
	}
	assert.Greater(t, failed, 0, "burst beyond the limiter must be rejected")
}
