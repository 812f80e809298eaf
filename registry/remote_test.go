package registry

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lite-rpc/message"
)

// freePort reserves an ephemeral port and releases it for the server under
// test.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func startServer(t *testing.T, port int) *RegistryServer {
	t.Helper()
	s := NewRegistryServer(port, false)
	require.NoError(t, s.Start())
	return s
}

func TestRemoteRegisterAndDiscover(t *testing.T) {
	port := freePort(t)
	srv := startServer(t, port)
	defer srv.Shutdown()

	client, err := NewRemoteServiceRegistry("127.0.0.1:"+strconv.Itoa(port), false)
	require.NoError(t, err)
	defer client.Destroy()

	info := echoInfo("10.0.0.1:9000")
	require.NoError(t, client.Register(info))

	got, err := client.Discover("Echo", "1.0.0", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, info, got[0])

	// Missing services are an empty list, not an error.
	none, err := client.Discover("Missing", "1.0.0", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRemoteUnregister(t *testing.T) {
	port := freePort(t)
	srv := startServer(t, port)
	defer srv.Shutdown()

	client, err := NewRemoteServiceRegistry("127.0.0.1:"+strconv.Itoa(port), false)
	require.NoError(t, err)
	defer client.Destroy()

	info := echoInfo("10.0.0.1:9000")
	require.NoError(t, client.Register(info))
	require.NoError(t, client.Unregister(info))

	got, err := client.Discover("Echo", "1.0.0", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// Reconnect replay: after the registry restarts, the next use of a
// heartbeat-enabled session re-registers the cached services in order.
func TestReconnectReplaysRegistrations(t *testing.T) {
	port := freePort(t)
	srv := startServer(t, port)

	client, err := NewRemoteServiceRegistry("127.0.0.1:"+strconv.Itoa(port), true)
	require.NoError(t, err)
	defer client.Destroy()

	a := message.ServiceInfo{ServiceName: "SvcA", Version: "1.0.0", Address: "10.0.0.1:9000", Weight: 1}
	b := message.ServiceInfo{ServiceName: "SvcB", Version: "1.0.0", Address: "10.0.0.1:9000", Weight: 1}
	require.NoError(t, client.Register(a))
	require.NoError(t, client.Register(b))

	// Restart the registry: all volatile state is lost.
	srv.Shutdown()
	time.Sleep(50 * time.Millisecond)
	srv2 := startServer(t, port)
	defer srv2.Shutdown()

	// The next operation detects the dead session, reconnects and replays
	// both registrations before serving the lookup.
	require.Eventually(t, func() bool {
		gotA, err := client.Discover("SvcA", "1.0.0", "")
		if err != nil || len(gotA) != 1 {
			return false
		}
		gotB, err := client.Discover("SvcB", "1.0.0", "")
		return err == nil && len(gotB) == 1
	}, 10*time.Second, 200*time.Millisecond)
}

func TestDestroyUnregistersAll(t *testing.T) {
	port := freePort(t)
	srv := startServer(t, port)
	defer srv.Shutdown()

	client, err := NewRemoteServiceRegistry("127.0.0.1:"+strconv.Itoa(port), false)
	require.NoError(t, err)

	require.NoError(t, client.Register(echoInfo("10.0.0.1:9000")))
	require.NoError(t, client.Destroy())

	assert.Empty(t, srv.DiscoverService("Echo", "1.0.0", ""))

	// Destroy is idempotent.
	require.NoError(t, client.Destroy())
}

func TestLocalRegistry(t *testing.T) {
	r := NewLocalServiceRegistry()
	info := echoInfo("127.0.0.1:9000")
	require.NoError(t, r.Register(info))
	require.NoError(t, r.Register(info)) // idempotent

	got, err := r.Discover("Echo", "1.0.0", "")
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, r.Unregister(info))
	got, err = r.Discover("Echo", "1.0.0", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}
