package registry

import (
	"sync"

	"lite-rpc/message"
)

// LocalServiceRegistry is a purely in-process registry. It backs tests and
// single-process deployments where provider and consumer share one binary;
// there are no heartbeats because there is no network to fail.
type LocalServiceRegistry struct {
	mu       sync.Mutex
	services map[string][]message.ServiceInfo
}

// NewLocalServiceRegistry returns an empty in-process registry.
func NewLocalServiceRegistry() *LocalServiceRegistry {
	return &LocalServiceRegistry{services: make(map[string][]message.ServiceInfo)}
}

func (r *LocalServiceRegistry) Register(info message.ServiceInfo) error {
	key := serviceKeyFor(info)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.services[key] {
		if e.Address == info.Address {
			return nil
		}
	}
	r.services[key] = append(r.services[key], info)
	return nil
}

func (r *LocalServiceRegistry) Unregister(info message.ServiceInfo) error {
	key := serviceKeyFor(info)
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.services[key]
	kept := entries[:0]
	for _, e := range entries {
		if e.Address != info.Address {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(r.services, key)
	} else {
		r.services[key] = kept
	}
	return nil
}

func (r *LocalServiceRegistry) Discover(serviceName, version, group string) ([]message.ServiceInfo, error) {
	key := message.ServiceKey(serviceName, version, group)
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.services[key]
	out := make([]message.ServiceInfo, len(entries))
	copy(out, entries)
	return out, nil
}

func (r *LocalServiceRegistry) Destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = make(map[string][]message.ServiceInfo)
	return nil
}
