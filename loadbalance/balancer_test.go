package loadbalance

import (
	"testing"

	"lite-rpc/message"
)

var testInstances = []message.ServiceInfo{
	{ServiceName: "Echo", Version: "1.0", Address: ":8001", Weight: 1},
	{ServiceName: "Echo", Version: "1.0", Address: ":8002", Weight: 1},
	{ServiceName: "Echo", Version: "1.0", Address: ":8003", Weight: 1},
}

func TestRandomPicksAllInstances(t *testing.T) {
	b := &RandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Address]++
	}

	// Uniform random over 3 instances: each should land near n/3.
	for addr, c := range counts {
		ratio := float64(c) / float64(n)
		if ratio < 0.25 || ratio > 0.42 {
			t.Fatalf("instance %s picked with ratio %.3f, expect ~0.333", addr, ratio)
		}
	}
}

func TestRandomEmpty(t *testing.T) {
	b := &RandomBalancer{}
	if _, err := b.Pick(nil); err == nil {
		t.Fatal("expect error for empty instances")
	}
}

func TestRandomReturnsCopy(t *testing.T) {
	b := &RandomBalancer{}
	inst, err := b.Pick(testInstances[:1])
	if err != nil {
		t.Fatal(err)
	}
	inst.Address = "mutated"
	if testInstances[0].Address != ":8001" {
		t.Fatal("Pick must not alias the caller's slice")
	}
}
