package registry

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"lite-rpc/message"
	"lite-rpc/protocol"
)

// Default timing for the registry server. Providers must heartbeat more
// often than readIdleTimeout to keep their TCP session open, and at least
// once per heartbeatTimeout to stay in the service table.
const (
	defaultSweepInterval    = 10 * time.Second
	defaultHeartbeatTimeout = 120 * time.Second
	defaultReadIdleTimeout  = 30 * time.Second
)

// RegistryServer is the standalone registry: an in-memory service table and
// heartbeat table behind a framed-JSON TCP endpoint, with a background
// sweeper that expires addresses whose heartbeats stopped.
//
// Heartbeat keys are full host:port addresses. A PING refreshes the
// session's observed remote endpoint and the advertised addresses that were
// registered over that session. All state is volatile and rebuilt from
// provider re-registration after a restart.
type RegistryServer struct {
	port  int
	debug bool

	mu         sync.Mutex
	services   map[string][]message.ServiceInfo // serviceKey → ordered entries, unique by address
	heartbeats map[string]time.Time             // host:port → last seen

	ln      net.Listener
	conns   sync.Map // net.Conn → struct{}
	wg      sync.WaitGroup
	done    chan struct{}
	stopped sync.Once

	sweepInterval    time.Duration
	heartbeatTimeout time.Duration
	readIdleTimeout  time.Duration
}

// NewRegistryServer builds a registry server listening on port. Debug mode
// only raises log verbosity.
func NewRegistryServer(port int, debug bool) *RegistryServer {
	return &RegistryServer{
		port:             port,
		debug:            debug,
		services:         make(map[string][]message.ServiceInfo),
		heartbeats:       make(map[string]time.Time),
		done:             make(chan struct{}),
		sweepInterval:    defaultSweepInterval,
		heartbeatTimeout: defaultHeartbeatTimeout,
		readIdleTimeout:  defaultReadIdleTimeout,
	}
}

// Start binds the listener and launches the accept loop and the expiry
// sweeper. It returns once the server is accepting.
func (s *RegistryServer) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("registry: bind port %d: %w", s.port, err)
	}
	s.ln = ln
	log.Info("registry server listening", "addr", ln.Addr().String())

	s.wg.Add(2)
	go s.sweepLoop()
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address, useful when port 0 was requested.
func (s *RegistryServer) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops accepting, closes the listener and waits for the sweeper
// and connection handlers to drain. Idempotent.
func (s *RegistryServer) Shutdown() {
	s.stopped.Do(func() {
		close(s.done)
		if s.ln != nil {
			s.ln.Close()
		}
		s.conns.Range(func(key, _ any) bool {
			key.(net.Conn).Close()
			return true
		})
	})
	s.wg.Wait()
	log.Info("registry server stopped")
}

func (s *RegistryServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			log.Error("registry accept failed", "err", err)
			return
		}
		s.conns.Store(conn, struct{}{})
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *RegistryServer) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweepOnce(time.Now())
		}
	}
}

// sweepOnce removes every address whose last heartbeat is older than the
// timeout. Sweep and explicit unregister are the only removers.
func (s *RegistryServer) sweepOnce(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for address, last := range s.heartbeats {
		if now.Sub(last) > s.heartbeatTimeout {
			log.Warn("heartbeat expired, removing address", "address", address, "lastSeen", last)
			s.removeAddressLocked(address)
		}
	}
}

// removeAddressLocked drops every entry for address from the service table
// plus its heartbeat entry. Caller holds s.mu.
func (s *RegistryServer) removeAddressLocked(address string) {
	delete(s.heartbeats, address)
	for key, entries := range s.services {
		kept := entries[:0]
		for _, e := range entries {
			if e.Address != address {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(s.services, key)
		} else {
			s.services[key] = kept
		}
	}
}

// serviceKeyFor synthesizes the registry-boundary key for entries whose
// service name is empty.
func serviceKeyFor(info message.ServiceInfo) string {
	if key := info.ServiceKey(); key != "" {
		return key
	}
	return "unknown_service_" + info.Address
}

// RegisterService appends the entry unless one with the same address already
// exists under the key, and refreshes the address heartbeat. Every register
// is an implicit heartbeat.
func (s *RegistryServer) RegisterService(info message.ServiceInfo) {
	key := serviceKeyFor(info)
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.services[key]
	exists := false
	for _, e := range entries {
		if e.Address == info.Address {
			exists = true
			break
		}
	}
	if !exists {
		s.services[key] = append(entries, info)
	}
	s.heartbeats[info.Address] = time.Now()
	log.Info("service registered", "key", key, "address", info.Address, "new", !exists)
}

// UnregisterService removes the entry for the address under the key. The
// heartbeat entry survives while any other service still references the
// address.
func (s *RegistryServer) UnregisterService(info message.ServiceInfo) {
	key := serviceKeyFor(info)
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.services[key]
	kept := entries[:0]
	for _, e := range entries {
		if e.Address != info.Address {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(s.services, key)
	} else {
		s.services[key] = kept
	}

	referenced := false
	for _, entries := range s.services {
		for _, e := range entries {
			if e.Address == info.Address {
				referenced = true
				break
			}
		}
	}
	if !referenced {
		delete(s.heartbeats, info.Address)
	}
	log.Info("service unregistered", "key", key, "address", info.Address)
}

// DiscoverService returns a snapshot copy of the entries for the derived
// key. Missing keys yield an empty list.
func (s *RegistryServer) DiscoverService(serviceName, version, group string) []message.ServiceInfo {
	key := message.ServiceKey(serviceName, version, group)
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.services[key]
	out := make([]message.ServiceInfo, len(entries))
	copy(out, entries)
	return out
}

// UpdateHeartbeat refreshes the last-seen timestamp for an address.
func (s *RegistryServer) UpdateHeartbeat(address string) {
	s.mu.Lock()
	s.heartbeats[address] = time.Now()
	s.mu.Unlock()
	if s.debug {
		log.Debug("heartbeat", "address", address)
	}
}

// ServiceCount reports the total number of registered entries.
func (s *RegistryServer) ServiceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, entries := range s.services {
		n += len(entries)
	}
	return n
}

// RegisterTestServices pre-registers two demo entries, used by the CLI's
// test mode.
func (s *RegistryServer) RegisterTestServices() {
	s.RegisterService(message.ServiceInfo{
		ServiceName: "demo.EchoService", Version: "1.0.0", Group: "",
		Address: "127.0.0.1:9001", Weight: 1,
	})
	s.RegisterService(message.ServiceInfo{
		ServiceName: "demo.TimeService", Version: "1.0.0", Group: "",
		Address: "127.0.0.1:9002", Weight: 1,
	})
	log.Info("test services registered", "count", 2)
}

// handleConn serves one client session. Reads are bounded by the idle
// deadline; a session that stays silent past it is closed. Handler errors
// never close the session; they become FAIL responses.
func (s *RegistryServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.conns.Delete(conn)
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	log.Debug("registry client connected", "remote", remote)

	// Advertised addresses registered over this session. A PING refreshes
	// them along with the observed endpoint: the registry session dials out
	// from an ephemeral port, so the observed endpoint alone would never
	// match the advertised host:port that expiry tracks.
	var advertised []string

	for {
		conn.SetReadDeadline(time.Now().Add(s.readIdleTimeout))
		msg, err := protocol.ReadMessage(conn)
		if err != nil {
			if !isClosedErr(err) {
				log.Debug("registry session ended", "remote", remote, "err", err)
			}
			return
		}
		resp := s.dispatch(msg, remote, &advertised)
		if err := protocol.WriteMessage(conn, resp); err != nil {
			log.Warn("registry response write failed", "remote", remote, "err", err)
			return
		}
	}
}

// dispatch executes one registry operation and builds the response envelope.
func (s *RegistryServer) dispatch(msg *message.Message, remote string, advertised *[]string) *message.Message {
	resp := &message.Message{
		Type:          message.TypeRegistryResponse,
		Serialization: message.SerializationJSON,
		Compression:   message.CompressNone,
		RequestID:     msg.RequestID,
		Status:        message.StatusOK,
	}

	fail := func(diag string) *message.Message {
		resp.Status = message.StatusFail
		resp.SetData(diag)
		return resp
	}

	switch msg.Type {
	case message.TypeHeartbeatRequest:
		s.UpdateHeartbeat(remote)
		for _, addr := range *advertised {
			s.UpdateHeartbeat(addr)
		}
		resp.Type = message.TypeHeartbeatResponse
		resp.SetData(message.HeartbeatPong)

	case message.TypeRegistryRegister:
		info, err := msg.ServiceInfo()
		if err != nil {
			return fail("register: bad payload: " + err.Error())
		}
		if info.Address == "" {
			return fail("register: service address is empty")
		}
		s.RegisterService(*info)
		seen := false
		for _, a := range *advertised {
			if a == info.Address {
				seen = true
				break
			}
		}
		if !seen {
			*advertised = append(*advertised, info.Address)
		}
		resp.SetData("service registered")

	case message.TypeRegistryUnregister:
		info, err := msg.ServiceInfo()
		if err != nil {
			return fail("unregister: bad payload: " + err.Error())
		}
		if info.Address == "" {
			return fail("unregister: service address is empty")
		}
		s.UnregisterService(*info)
		resp.SetData("service unregistered")

	case message.TypeRegistryLookup:
		req, err := msg.LookupRequest()
		if err != nil {
			return fail("lookup: bad payload: " + err.Error())
		}
		if req.ServiceName == "" {
			return fail("lookup: service name is empty")
		}
		services := s.DiscoverService(req.ServiceName, req.Version, req.Group)
		resp.SetData(message.LookupResponse{Services: services})
		log.Debug("lookup served", "service", req.ServiceName, "results", len(services))

	default:
		log.Warn("unknown registry message type", "type", msg.Type, "remote", remote)
		return fail(fmt.Sprintf("unknown message type: %d", msg.Type))
	}
	return resp
}

func isClosedErr(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
