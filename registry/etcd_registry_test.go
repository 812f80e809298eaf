package registry

import (
	"os"
	"testing"
	"time"

	"lite-rpc/message"
)

// Needs a live etcd; set ETCD_ENDPOINT to run, e.g.
// ETCD_ENDPOINT=127.0.0.1:2379 go test ./registry -run Etcd
func TestEtcdRegisterAndDiscover(t *testing.T) {
	endpoint := os.Getenv("ETCD_ENDPOINT")
	if endpoint == "" {
		t.Skip("ETCD_ENDPOINT not set")
	}

	reg, err := NewEtcdRegistry([]string{endpoint})
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Destroy()

	inst1 := message.ServiceInfo{ServiceName: "Arith", Version: "1.0", Address: "127.0.0.1:8001", Weight: 1}
	inst2 := message.ServiceInfo{ServiceName: "Arith", Version: "1.0", Address: "127.0.0.1:8002", Weight: 1}

	if err := reg.Register(inst1); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(inst2); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover("Arith", "1.0", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Unregister(inst1); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover("Arith", "1.0", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("expect 1 instance after unregister, got %d", len(instances))
	}
	if instances[0].Address != inst2.Address {
		t.Fatalf("expect %s, got %s", inst2.Address, instances[0].Address)
	}
}
