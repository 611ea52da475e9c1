package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"

	"ws-rpc/registry"
)

// ConsistentHashBalancer maps a fixed client key onto a hash ring of
// instances, so a client keeps landing on the same server across reconnects
// while the instance set is stable. Each instance gets replicas virtual nodes
// to spread the ring evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	                ╲   ╱
type ConsistentHashBalancer struct {
	key      string
	replicas int
}

func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		key:      key,
		replicas: 100,
	}
}

// Pick builds the ring from instances and returns the owner of the
// balancer's key. The ring is rebuilt per pick because discovery results
// change between calls.
func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	return b.PickKey(instances, b.key)
}

// PickKey is Pick for an explicit key.
func (b *ConsistentHashBalancer) PickKey(instances []registry.ServiceInstance, key string) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	ring := make([]uint32, 0, len(instances)*b.replicas)
	nodes := make(map[uint32]int, len(instances)*b.replicas)
	for i := range instances {
		for r := 0; r < b.replicas; r++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instances[i].Addr, r)))
			ring = append(ring, hash)
			nodes[hash] = i
		}
	}
	sort.Slice(ring, func(i, j int) bool {
		return ring[i] < ring[j]
	})

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(ring), func(i int) bool {
		return ring[i] >= hash
	})
	if idx == len(ring) {
		idx = 0
	}
	return &instances[nodes[ring[idx]]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
