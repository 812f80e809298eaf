// Package transport implements the client-side session layer with request
// multiplexing and heartbeats.
//
// ClientTransport enables multiple concurrent calls over a single TCP
// connection. Each outgoing request gets a unique request id, and a single
// background goroutine (recvLoop) reads response envelopes and routes them
// to the correct caller via the pending map.
//
//	goroutine-1 ──Send(id=1)──┐
//	goroutine-2 ──Send(id=2)──┼──→ single TCP conn ──→ peer
//	goroutine-3 ──Send(id=3)──┘
//
//	recvLoop:  ←── response(id=2) → pending[2].Complete → goroutine-2 wakes
package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"lite-rpc/message"
	"lite-rpc/protocol"
)

// DialTimeout is the connect deadline for a single dial attempt.
const DialTimeout = 5 * time.Second

// ClientTransport manages one multiplexed TCP connection.
type ClientTransport struct {
	conn    net.Conn
	addr    string
	seq     atomic.Uint64 // strictly monotonic request id source for this session
	pending sync.Map      // map[uint64]*Awaiter
	writeMu sync.Mutex    // one frame at a time; concurrent writes would interleave
	closed  atomic.Bool
	hbStop  chan struct{}
	hbOnce  sync.Once
}

// Dial connects to addr with the standard connect deadline and wraps the
// connection in a transport.
func Dial(addr string) (*ClientTransport, error) {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, err
	}
	return NewClientTransport(conn), nil
}

// NewClientTransport wraps conn and starts the receive loop.
func NewClientTransport(conn net.Conn) *ClientTransport {
	t := &ClientTransport{
		conn:   conn,
		addr:   conn.RemoteAddr().String(),
		hbStop: make(chan struct{}),
	}
	go t.recvLoop()
	return t
}

// Addr returns the remote address this session is connected to.
func (t *ClientTransport) Addr() string { return t.addr }

// Active reports whether the session is still usable.
func (t *ClientTransport) Active() bool { return !t.closed.Load() }

// NextRequestID returns the next id in this session's total order.
func (t *ClientTransport) NextRequestID() uint64 { return t.seq.Add(1) }

// Send parks an awaiter under the envelope's request id and writes the frame.
// The awaiter is registered before the write so a fast response can never
// race past the pending map. A failed write removes the entry and fails the
// awaiter.
func (t *ClientTransport) Send(msg *message.Message) (*Awaiter, error) {
	awaiter := NewAwaiter(msg.RequestID)
	awaiter.forget = func() { t.pending.Delete(msg.RequestID) }
	t.pending.Store(msg.RequestID, awaiter)

	t.writeMu.Lock()
	err := protocol.WriteMessage(t.conn, msg)
	t.writeMu.Unlock()
	if err != nil {
		t.pending.Delete(msg.RequestID)
		awaiter.Fail(err)
		return nil, err
	}
	return awaiter, nil
}

// SendHeartbeat writes a PING envelope. No pending entry is installed; the
// PONG is consumed by the receive loop.
func (t *ClientTransport) SendHeartbeat() error {
	msg, err := message.New(message.TypeHeartbeatRequest, t.NextRequestID(), message.HeartbeatPing)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return protocol.WriteMessage(t.conn, msg)
}

// StartHeartbeat sends a PING every interval until the session closes.
// Sessions to peers that close reader-idle connections need this to stay
// alive across quiet periods.
func (t *ClientTransport) StartHeartbeat(interval time.Duration) {
	t.hbOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-t.hbStop:
					return
				case <-ticker.C:
					if err := t.SendHeartbeat(); err != nil {
						log.Warn("heartbeat send failed", "addr", t.addr, "err", err)
						return
					}
				}
			}
		}()
	})
}

// recvLoop is the single reader for this session. TCP is a byte stream, so
// frame boundaries only parse under sequential reads; everything inbound
// funnels through here and fans out via the pending map.
func (t *ClientTransport) recvLoop() {
	for {
		msg, err := protocol.ReadMessage(t.conn)
		if err != nil {
			t.teardown(err)
			return
		}
		switch msg.Type {
		case message.TypeResponse, message.TypeRegistryResponse:
			if v, ok := t.pending.LoadAndDelete(msg.RequestID); ok {
				v.(*Awaiter).Complete(msg)
			} else {
				log.Warn("response for unknown request id dropped", "requestId", msg.RequestID, "addr", t.addr)
			}
		case message.TypeHeartbeatResponse:
			log.Debug("heartbeat response", "addr", t.addr)
		default:
			log.Warn("unexpected message type discarded", "type", msg.Type, "addr", t.addr)
		}
	}
}

// teardown fails every pending awaiter and closes the connection. Invoked
// from the receive loop on read error and from Close.
func (t *ClientTransport) teardown(cause error) {
	if t.closed.Swap(true) {
		return
	}
	close(t.hbStop)
	t.conn.Close()
	t.pending.Range(func(key, value any) bool {
		t.pending.Delete(key)
		value.(*Awaiter).Fail(ErrConnectionClosed)
		return true
	})
	if cause != nil {
		log.Debug("session closed", "addr", t.addr, "cause", cause)
	}
}

// Close shuts the session down and fails all in-flight requests. Idempotent.
func (t *ClientTransport) Close() error {
	t.teardown(nil)
	return nil
}
