// Package loadbalance selects one provider among the instances a lookup
// returned. Uniform random is the only strategy the core defines; weights
// are carried by ServiceInfo but deliberately unused here.
package loadbalance

import "lite-rpc/message"

// Balancer picks one instance from the available list. Called on every RPC,
// so implementations must be goroutine-safe.
type Balancer interface {
	Pick(instances []message.ServiceInfo) (*message.ServiceInfo, error)
	Name() string
}
