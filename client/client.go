// Package client implements the consumer side: the connection-cached RPC
// client and the typed invocation façade on top of it.
package client

import (
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"lite-rpc/config"
	"lite-rpc/loadbalance"
	"lite-rpc/message"
	"lite-rpc/registry"
	"lite-rpc/transport"
)

// RpcClient sends requests to providers discovered through the registry.
// Sessions are cached per provider address and rebuilt on failure.
type RpcClient struct {
	registry registry.ServiceRegistry
	balancer loadbalance.Balancer
	cache    *transport.Cache
}

// NewRpcClient builds a consumer from configuration. The registry session
// runs without a heartbeat: consumers reconnect lazily on use.
func NewRpcClient() (*RpcClient, error) {
	reg, err := registry.NewServiceRegistry(config.RegistryType(), config.RegistryAddress(), false)
	if err != nil {
		return nil, err
	}
	return NewRpcClientWith(reg, &loadbalance.RandomBalancer{}), nil
}

// NewRpcClientWith builds a consumer around an explicit registry and
// balancer, the seam tests use to substitute fakes.
func NewRpcClientWith(reg registry.ServiceRegistry, bal loadbalance.Balancer) *RpcClient {
	cache := transport.NewCache()
	// Providers reap reader-idle connections after 30s; an idle consumer
	// session needs pings at a faster cadence to survive quiet periods.
	cache.HeartbeatInterval = 15 * time.Second
	return &RpcClient{
		registry: reg,
		balancer: bal,
		cache:    cache,
	}
}

// SendRequest resolves providers, picks one at random, and writes the
// framed request over the cached session for that address. The returned
// awaiter resolves with the raw response envelope; interpretation of
// FAIL status happens in the façade.
func (c *RpcClient) SendRequest(req *message.Request) (*transport.Awaiter, error) {
	instances, err := c.registry.Discover(req.ServiceName, req.Version, req.Group)
	if err != nil {
		log.Warn("lookup failed", "service", req.ServiceKey(), "err", err)
		instances = nil
	}
	if len(instances) == 0 {
		return nil, &ServiceNotFoundError{ServiceKey: req.ServiceKey()}
	}

	instance, err := c.balancer.Pick(instances)
	if err != nil {
		return nil, &ServiceNotFoundError{ServiceKey: req.ServiceKey()}
	}

	session, err := c.cache.Get(instance.Address)
	if err != nil {
		return nil, &TransportError{Address: instance.Address, Err: err}
	}

	msg, err := message.New(message.TypeRequest, session.NextRequestID(), req)
	if err != nil {
		return nil, err
	}
	awaiter, err := session.Send(msg)
	if err != nil {
		c.cache.Evict(instance.Address, session)
		return nil, &TransportError{Address: instance.Address, Err: err}
	}
	return awaiter, nil
}

// Await blocks on the awaiter for at most timeout and interprets the
// response envelope: a FAIL status or failure code surfaces as RemoteError.
func Await(awaiter *transport.Awaiter, timeout time.Duration) (*message.Response, error) {
	msg, err := awaiter.Await(timeout)
	if err != nil {
		return nil, err
	}
	return interpret(msg)
}

// interpret unwraps the response payload from the envelope.
func interpret(msg *message.Message) (*message.Response, error) {
	resp, err := msg.Response()
	if err != nil {
		return nil, err
	}
	if msg.Status != message.StatusOK {
		return nil, &RemoteError{Code: resp.Code, Message: resp.Message}
	}
	if resp.Code == 0 {
		// A missing code is coerced to failure rather than trusted.
		log.Warn("response code missing, treating as failure")
		return nil, &RemoteError{Code: message.CodeFail, Message: resp.Message}
	}
	if resp.Code != message.CodeSuccess {
		return nil, &RemoteError{Code: resp.Code, Message: resp.Message}
	}
	return resp, nil
}

// Close tears down every cached session and the registry client.
func (c *RpcClient) Close() {
	c.cache.Close()
	if err := c.registry.Destroy(); err != nil && !errors.Is(err, transport.ErrConnectionClosed) {
		log.Warn("registry destroy failed", "err", err)
	}
	log.Info("rpc client closed")
}
