// Package server implements the provider side: it accepts consumer
// connections, decodes framed requests, runs them through the middleware
// chain into the handler table, and keeps the provider's registry entries
// alive through its heartbeat-enabled registry session.
//
// Request pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → middleware chain → Invoker → response frame (per-conn write lock)
package server

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"lite-rpc/config"
	"lite-rpc/message"
	"lite-rpc/middleware"
	"lite-rpc/protocol"
	"lite-rpc/registry"
)

const defaultReadIdleTimeout = 30 * time.Second

// ServiceOptions is the bootstrap-time registration contract: what the
// source framework scanned from annotations arrives here explicitly.
type ServiceOptions struct {
	// Name overrides the service name. When empty, the receiver's
	// package-qualified type name is used.
	Name    string
	Version string // defaults to "1.0.0"
	Group   string
}

// Server is the RPC provider.
type Server struct {
	ip            string
	port          int
	advertiseAddr string

	registry    registry.ServiceRegistry
	handler     *RequestHandler
	middlewares []middleware.Middleware
	chain       middleware.HandlerFunc

	ln       net.Listener
	conns    sync.Map // net.Conn → struct{}
	wg       sync.WaitGroup
	shutdown atomic.Bool

	mu         sync.Mutex
	registered []message.ServiceInfo

	readIdleTimeout time.Duration
}

// NewServer builds a provider from configuration: bind IP (auto-detected
// LAN address unless configured), port, and a heartbeat-enabled session to
// the configured registry.
func NewServer() (*Server, error) {
	reg, err := registry.NewServiceRegistry(config.RegistryType(), config.RegistryAddress(), true)
	if err != nil {
		return nil, err
	}
	return NewServerWith(config.ServerIP(), config.ServerPort(), reg), nil
}

// NewServerWith builds a provider with an explicit address and registry,
// the seam tests use to substitute fakes.
func NewServerWith(ip string, port int, reg registry.ServiceRegistry) *Server {
	return &Server{
		ip:              ip,
		port:            port,
		advertiseAddr:   fmt.Sprintf("%s:%d", ip, port),
		registry:        reg,
		handler:         NewRequestHandler(),
		readIdleTimeout: defaultReadIdleTimeout,
	}
}

// Use appends a middleware; middlewares run in registration order around
// every invocation.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Handler exposes the handler table for explicit MethodFunc registration.
func (s *Server) Handler() *RequestHandler { return s.handler }

// RegisterService installs rcvr in the handler table and queues its
// ServiceInfo for registration at Start.
func (s *Server) RegisterService(rcvr any, opts ServiceOptions) error {
	name := opts.Name
	if name == "" {
		t := reflect.TypeOf(rcvr)
		for t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		name = t.String()
	}
	version := opts.Version
	if version == "" {
		version = "1.0.0"
	}
	key := message.ServiceKey(name, version, opts.Group)
	if err := s.handler.RegisterService(key, rcvr); err != nil {
		return err
	}

	info := message.ServiceInfo{
		ServiceName: name,
		Version:     version,
		Group:       opts.Group,
		Address:     s.advertiseAddr,
		Weight:      1,
	}
	s.mu.Lock()
	s.registered = append(s.registered, info)
	s.mu.Unlock()
	return nil
}

// Start binds the listener, registers every queued service with the
// registry, and launches the accept loop. It returns once accepting.
func (s *Server) Start() error {
	// The listener binds the same ip:port that is advertised to the
	// registry, so that address must be routable.
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.ip, s.port))
	if err != nil {
		return fmt.Errorf("server: bind %s:%d: %w", s.ip, s.port, err)
	}
	s.ln = ln

	// Build the middleware chain once, not per request.
	s.chain = middleware.Chain(s.middlewares...)(s.handler.Handle)

	s.mu.Lock()
	services := make([]message.ServiceInfo, len(s.registered))
	copy(services, s.registered)
	s.mu.Unlock()
	for _, info := range services {
		if err := s.registry.Register(info); err != nil {
			ln.Close()
			return fmt.Errorf("server: register %s: %w", info.ServiceKey(), err)
		}
	}

	log.Info("rpc server listening", "addr", s.advertiseAddr, "services", len(services))
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.advertiseAddr
	}
	return s.ln.Addr().String()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return
			}
			log.Error("accept failed", "err", err)
			return
		}
		s.conns.Store(conn, struct{}{})
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn reads frames sequentially (frame boundaries only parse under
// a single reader) and dispatches each request to its own goroutine. The
// per-connection write mutex keeps concurrently written responses from
// interleaving.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.conns.Delete(conn)
	defer conn.Close()
	writeMu := &sync.Mutex{}

	for {
		conn.SetReadDeadline(time.Now().Add(s.readIdleTimeout))
		msg, err := protocol.ReadMessage(conn)
		if err != nil {
			return // connection closed, idle, or stream broken
		}

		switch msg.Type {
		case message.TypeHeartbeatRequest:
			pong, _ := message.New(message.TypeHeartbeatResponse, msg.RequestID, message.HeartbeatPong)
			pong.Status = message.StatusOK
			writeMu.Lock()
			err := protocol.WriteMessage(conn, pong)
			writeMu.Unlock()
			if err != nil {
				return
			}

		case message.TypeRequest:
			s.wg.Add(1)
			go s.handleRequest(msg, conn, writeMu)

		default:
			// Unknown types are decoded, logged and discarded; the
			// connection stays open.
			log.Warn("unknown message type discarded", "type", msg.Type, "remote", conn.RemoteAddr())
		}
	}
}

// handleRequest runs one invocation through the chain and writes the
// response with the request's id. Invocation failures become FAIL
// responses; they never close the connection.
func (s *Server) handleRequest(msg *message.Message, conn net.Conn, writeMu *sync.Mutex) {
	defer s.wg.Done()

	var resp *message.Response
	req, err := msg.Request()
	if err != nil {
		resp = message.Fail("decode request: " + err.Error())
	} else {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("invocation panic", "panic", r)
					resp = message.Fail(fmt.Sprintf("invocation panic: %v", r))
				}
			}()
			resp = s.chain(context.Background(), req)
		}()
	}

	if resp == nil {
		resp = message.Fail("handler returned no response")
	}
	if resp.Code == 0 {
		log.Warn("response code missing, coercing to failure")
		resp.Code = message.CodeFail
	}

	reply := &message.Message{
		Type:          message.TypeResponse,
		Serialization: msg.Serialization,
		Compression:   msg.Compression,
		RequestID:     msg.RequestID,
	}
	if resp.Code == message.CodeSuccess {
		reply.Status = message.StatusOK
	} else {
		reply.Status = message.StatusFail
	}
	if err := reply.SetData(resp); err != nil {
		reply.Status = message.StatusFail
		reply.SetData(message.Fail("encode response: " + err.Error()))
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if err := protocol.WriteMessage(conn, reply); err != nil {
		log.Warn("response write failed", "remote", conn.RemoteAddr(), "err", err)
	}
}

// Shutdown unregisters every service, closes the listener and all live
// connections, and waits for in-flight requests. Idempotent.
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.shutdown.Swap(true) {
		return nil
	}

	// Deregister first so consumers stop routing here before the listener
	// goes away.
	s.mu.Lock()
	services := make([]message.ServiceInfo, len(s.registered))
	copy(services, s.registered)
	s.registered = nil
	s.mu.Unlock()
	for _, info := range services {
		if err := s.registry.Unregister(info); err != nil {
			log.Warn("unregister failed during shutdown", "service", info.ServiceKey(), "err", err)
		}
	}
	s.registry.Destroy()

	if s.ln != nil {
		s.ln.Close()
	}
	s.conns.Range(func(key, _ any) bool {
		key.(net.Conn).Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("rpc server stopped", "addr", s.advertiseAddr)
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server: timeout waiting for in-flight requests")
	}
}
