// Package registry provides service registration and discovery.
//
// Three backends implement the same ServiceRegistry interface: the remote
// registry (a client session to the standalone registry server in this
// package), a purely in-process registry for single-process deployments and
// tests, and an etcd-backed registry for installations that already run
// etcd. The factory selects among them by name.
package registry

import (
	"fmt"

	"lite-rpc/message"
)

// ServiceRegistry is the discovery surface shared by providers and
// consumers.
type ServiceRegistry interface {
	// Register announces a provider endpoint.
	Register(info message.ServiceInfo) error
	// Unregister withdraws a provider endpoint.
	Unregister(info message.ServiceInfo) error
	// Discover returns a snapshot of all providers for the service.
	// A missing service yields an empty list, never an error.
	Discover(serviceName, version, group string) ([]message.ServiceInfo, error)
	// Destroy unregisters everything this holder registered and releases
	// the backend session. Idempotent.
	Destroy() error
}

// Registry backend names accepted by the factory.
const (
	TypeRemote = "remote"
	TypeLocal  = "local"
	TypeEtcd   = "etcd"
)

var localSingleton = NewLocalServiceRegistry()

// NewServiceRegistry builds a registry backend.
//
// For TypeRemote, address is the registry server's host:port and
// enableHeartbeat decides whether the session keeps itself alive (providers
// enable it, consumers do not). For TypeLocal the shared in-process
// singleton is returned so providers and consumers in one process see the
// same table. For TypeEtcd, address is a comma-free single endpoint.
func NewServiceRegistry(registryType, address string, enableHeartbeat bool) (ServiceRegistry, error) {
	switch registryType {
	case TypeRemote, "":
		return NewRemoteServiceRegistry(address, enableHeartbeat)
	case TypeLocal:
		return localSingleton, nil
	case TypeEtcd:
		return NewEtcdRegistry([]string{address})
	default:
		return nil, fmt.Errorf("registry: unknown registry type %q", registryType)
	}
}
