// etcd-backed ServiceRegistry for installations that already run etcd.
//
// etcd is a distributed key-value store with strong consistency. Entries
// live under:
//
//	Key:   /lite-rpc/{serviceKey}/{address}
//	Value: JSON-encoded ServiceInfo
//
// Registration attaches a TTL lease kept alive in the background, so a
// crashed provider disappears when its lease expires, the analogue of the
// remote registry's heartbeat sweep.
package registry

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"
	clientv3 "go.etcd.io/etcd/client/v3"

	"lite-rpc/message"
)

// etcdTTL mirrors the remote registry's liveness window, scaled to lease
// granularity.
const etcdTTL = 120

const etcdPrefix = "/lite-rpc/"

// EtcdRegistry implements ServiceRegistry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // registered key → lease
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, leases: make(map[string]clientv3.LeaseID)}, nil
}

func (r *EtcdRegistry) etcdKey(info message.ServiceInfo) string {
	return etcdPrefix + serviceKeyFor(info) + "/" + info.Address
}

// Register stores the entry with a TTL lease and starts background renewal.
func (r *EtcdRegistry) Register(info message.ServiceInfo) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, etcdTTL)
	if err != nil {
		return err
	}
	val, err := json.Marshal(info)
	if err != nil {
		return err
	}
	key := r.etcdKey(info)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	// Drain KeepAlive responses so the channel never fills.
	go func() {
		for range ch {
		}
	}()

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()
	log.Info("service registered in etcd", "key", key)
	return nil
}

// Unregister deletes the entry and revokes its lease.
func (r *EtcdRegistry) Unregister(info message.ServiceInfo) error {
	ctx := context.TODO()
	key := r.etcdKey(info)
	if _, err := r.client.Delete(ctx, key); err != nil {
		return err
	}
	r.mu.Lock()
	leaseID, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if ok {
		r.client.Revoke(ctx, leaseID)
	}
	return nil
}

// Discover queries all entries under the service key prefix.
func (r *EtcdRegistry) Discover(serviceName, version, group string) ([]message.ServiceInfo, error) {
	ctx := context.TODO()
	prefix := etcdPrefix + message.ServiceKey(serviceName, version, group) + "/"

	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	services := make([]message.ServiceInfo, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var info message.ServiceInfo
		if err := json.Unmarshal(kv.Value, &info); err != nil {
			continue // skip malformed entries
		}
		services = append(services, info)
	}
	return services, nil
}

// Destroy revokes every held lease and closes the client.
func (r *EtcdRegistry) Destroy() error {
	ctx := context.TODO()
	r.mu.Lock()
	for key, leaseID := range r.leases {
		r.client.Revoke(ctx, leaseID)
		delete(r.leases, key)
	}
	r.mu.Unlock()
	return r.client.Close()
}
