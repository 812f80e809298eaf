package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"lite-rpc/message"
	"lite-rpc/netutil"
	"lite-rpc/transport"
)

// DefaultRegistryPort is assumed when the configured address names no port.
const DefaultRegistryPort = 8000

// Timing for the remote registry client. The request timeout is
// deliberately short: an earlier revision of this client accidentally
// waited 1000 seconds.
const (
	defaultRequestTimeout  = 5 * time.Second
	connectRetryTimes      = 10
	connectRetryInterval   = 3 * time.Second
	heartbeatInterval      = 5 * time.Second
	heartbeatFailureWarnAt = 3
)

// RemoteServiceRegistry maintains one session to the registry server for the
// life of the holder. Providers run it with the heartbeat enabled, which
// keeps the session alive, keeps their entries out of the expiry sweep, and
// re-registers every cached service after a reconnect. Consumers disable
// the heartbeat and only use it for lookups.
type RemoteServiceRegistry struct {
	address         string
	enableHeartbeat bool

	mu         sync.Mutex
	session    *transport.ClientTransport
	registered []message.ServiceInfo // ordered re-register cache

	hbFailures int
	done       chan struct{}
	destroyed  sync.Once
}

// NewRemoteServiceRegistry connects to the registry at address (host:port).
// The initial connection is retried like any reconnect; failure after all
// attempts is fatal to construction.
func NewRemoteServiceRegistry(address string, enableHeartbeat bool) (*RemoteServiceRegistry, error) {
	if address == "" {
		return nil, errors.New("registry: registry address is empty")
	}
	address = fmt.Sprintf("%s:%d",
		netutil.HostFromAddress(address),
		netutil.PortFromAddress(address, DefaultRegistryPort))
	r := &RemoteServiceRegistry{
		address:         address,
		enableHeartbeat: enableHeartbeat,
		done:            make(chan struct{}),
	}
	if err := r.connect(); err != nil {
		return nil, err
	}
	if enableHeartbeat {
		go r.heartbeatLoop()
	}
	log.Info("registry client ready", "registry", address, "heartbeat", enableHeartbeat)
	return r, nil
}

// connect dials the registry with the standard retry schedule and installs
// the new session. Any previous session is closed.
func (r *RemoteServiceRegistry) connect() error {
	var lastErr error
	for attempt := 0; attempt < connectRetryTimes; attempt++ {
		if attempt > 0 {
			log.Info("retrying registry connection", "attempt", attempt+1, "registry", r.address)
			time.Sleep(connectRetryInterval)
		}
		t, err := transport.Dial(r.address)
		if err != nil {
			lastErr = err
			log.Warn("registry connection failed", "attempt", attempt+1, "registry", r.address, "err", err)
			continue
		}
		r.mu.Lock()
		if r.session != nil {
			r.session.Close()
		}
		r.session = t
		r.hbFailures = 0
		r.mu.Unlock()
		log.Info("connected to registry", "registry", r.address)
		return nil
	}
	return fmt.Errorf("registry: connect %s failed after %d attempts: %w", r.address, connectRetryTimes, lastErr)
}

// ensureSession reconnects when the session died and, for heartbeat-enabled
// holders, replays every cached registration in order.
func (r *RemoteServiceRegistry) ensureSession() error {
	r.mu.Lock()
	alive := r.session != nil && r.session.Active()
	r.mu.Unlock()
	if alive {
		return nil
	}
	log.Warn("registry session down, reconnecting", "registry", r.address)
	if err := r.connect(); err != nil {
		return err
	}
	if r.enableHeartbeat {
		r.reregisterAll()
	}
	return nil
}

// reregisterAll replays the cached registrations in insertion order.
// Best-effort: failures are logged, not fatal.
func (r *RemoteServiceRegistry) reregisterAll() {
	r.mu.Lock()
	services := make([]message.ServiceInfo, len(r.registered))
	copy(services, r.registered)
	r.mu.Unlock()
	if len(services) == 0 {
		return
	}
	log.Info("re-registering services after reconnect", "count", len(services))
	for _, info := range services {
		if err := r.send(message.TypeRegistryRegister, info); err != nil {
			log.Error("re-register failed", "service", info.ServiceKey(), "err", err)
		}
	}
}

// send performs one request/response exchange with the registry. The caller
// blocks for at most the request timeout; a timed-out entry is removed from
// the pending map by the awaiter itself.
func (r *RemoteServiceRegistry) send(t message.Type, payload any) error {
	msg, err := r.exchange(t, payload)
	if err != nil {
		return err
	}
	if msg.Status != message.StatusOK {
		var diag string
		msg.DecodeData(&diag)
		return fmt.Errorf("registry: %s", diag)
	}
	return nil
}

func (r *RemoteServiceRegistry) exchange(t message.Type, payload any) (*message.Message, error) {
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()
	if session == nil || !session.Active() {
		return nil, transport.ErrConnectionClosed
	}
	msg, err := message.New(t, session.NextRequestID(), payload)
	if err != nil {
		return nil, err
	}
	awaiter, err := session.Send(msg)
	if err != nil {
		return nil, err
	}
	return awaiter.Await(defaultRequestTimeout)
}

// Register announces the endpoint and caches it for post-reconnect replay.
func (r *RemoteServiceRegistry) Register(info message.ServiceInfo) error {
	r.mu.Lock()
	cached := false
	for _, s := range r.registered {
		if s == info {
			cached = true
			break
		}
	}
	if !cached {
		r.registered = append(r.registered, info)
	}
	r.mu.Unlock()

	if err := r.ensureSession(); err != nil {
		return err
	}
	if err := r.send(message.TypeRegistryRegister, info); err != nil {
		return fmt.Errorf("registry: register %s: %w", info.ServiceKey(), err)
	}
	log.Info("service registered with registry", "service", info.ServiceKey(), "address", info.Address)
	return nil
}

// Unregister withdraws the endpoint and drops it from the replay cache.
func (r *RemoteServiceRegistry) Unregister(info message.ServiceInfo) error {
	r.mu.Lock()
	kept := r.registered[:0]
	for _, s := range r.registered {
		if s != info {
			kept = append(kept, s)
		}
	}
	r.registered = kept
	r.mu.Unlock()

	if err := r.ensureSession(); err != nil {
		return err
	}
	if err := r.send(message.TypeRegistryUnregister, info); err != nil {
		return fmt.Errorf("registry: unregister %s: %w", info.ServiceKey(), err)
	}
	log.Info("service unregistered from registry", "service", info.ServiceKey())
	return nil
}

// Discover returns a snapshot of the providers for the service. Lookup
// failures surface as errors; the caller treats them like an empty list.
func (r *RemoteServiceRegistry) Discover(serviceName, version, group string) ([]message.ServiceInfo, error) {
	if err := r.ensureSession(); err != nil {
		return nil, err
	}
	msg, err := r.exchange(message.TypeRegistryLookup, message.LookupRequest{
		ServiceName: serviceName,
		Version:     version,
		Group:       group,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: lookup %s: %w", message.ServiceKey(serviceName, version, group), err)
	}
	if msg.Status != message.StatusOK {
		var diag string
		msg.DecodeData(&diag)
		return nil, fmt.Errorf("registry: lookup failed: %s", diag)
	}
	resp, err := msg.LookupResponse()
	if err != nil {
		return nil, err
	}
	return resp.Services, nil
}

// heartbeatLoop keeps the session alive and recovers it after failures:
// each tick checks liveness, reconnects and re-registers when the session
// dropped, then sends a PING. Three consecutive send failures raise a
// warning; the reconnect happens on the next tick regardless.
func (r *RemoteServiceRegistry) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			if err := r.ensureSession(); err != nil {
				log.Error("registry reconnect failed", "err", err)
				continue
			}
			r.mu.Lock()
			session := r.session
			r.mu.Unlock()
			if err := session.SendHeartbeat(); err != nil {
				r.mu.Lock()
				r.hbFailures++
				n := r.hbFailures
				r.mu.Unlock()
				log.Error("heartbeat send failed", "consecutive", n, "err", err)
				if n >= heartbeatFailureWarnAt {
					log.Warn("repeated heartbeat failures, will reconnect on next tick", "consecutive", n)
				}
			} else {
				r.mu.Lock()
				r.hbFailures = 0
				r.mu.Unlock()
			}
		}
	}
}

// Destroy unregisters every cached service, stops the heartbeat loop and
// closes the session. Idempotent.
func (r *RemoteServiceRegistry) Destroy() error {
	r.destroyed.Do(func() {
		close(r.done)
		r.mu.Lock()
		services := make([]message.ServiceInfo, len(r.registered))
		copy(services, r.registered)
		r.mu.Unlock()
		for _, info := range services {
			if err := r.Unregister(info); err != nil {
				log.Warn("unregister during destroy failed", "service", info.ServiceKey(), "err", err)
			}
		}
		r.mu.Lock()
		if r.session != nil {
			r.session.Close()
			r.session = nil
		}
		r.registered = nil
		r.mu.Unlock()
		log.Info("registry client destroyed", "registry", r.address)
	})
	return nil
}
