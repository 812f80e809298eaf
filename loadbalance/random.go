package loadbalance

import (
	"fmt"
	"math/rand"

	"lite-rpc/message"
)

// RandomBalancer picks uniformly at random.
type RandomBalancer struct{}

func (b *RandomBalancer) Pick(instances []message.ServiceInfo) (*message.ServiceInfo, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no instances available")
	}
	inst := instances[rand.Intn(len(instances))]
	return &inst, nil
}

func (b *RandomBalancer) Name() string {
	return "Random"
}
