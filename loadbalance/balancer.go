// Package loadbalance chooses which discovered server instance a client
// opens its connection to.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity instances
//   - WeightedRandom:  heterogeneous instances
//   - ConsistentHash:  the same client key lands on the same instance while
//     the instance set is stable
package loadbalance

import (
	"strings"

	"github.com/juju/errors"

	"ws-rpc/registry"
)

// ErrNoInstances is returned when there is nothing to pick from.
const ErrNoInstances = errors.ConstError("no instances available")

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one instance from the available list. Must be
	// goroutine-safe.
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer called name. key is only used by
// consistent-hash.
func New(name, key string) (Balancer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "round-robin", "roundrobin":
		return &RoundRobinBalancer{}, nil
	case "weighted-random", "weightedrandom":
		return &WeightedRandomBalancer{}, nil
	case "consistent-hash", "consistenthash":
		return NewConsistentHashBalancer(key), nil
	default:
		return nil, errors.NotSupportedf("balancer %q", name)
	}
}
