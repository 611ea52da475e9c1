package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry is an in-process Registry for single-host setups and tests.
// TTLs are ignored.
type MemoryRegistry struct {
	mu        sync.Mutex
	instances map[string]map[string]ServiceInstance
	watchers  map[string][]chan []ServiceInstance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		instances: make(map[string]map[string]ServiceInstance),
		watchers:  make(map[string][]chan []ServiceInstance),
	}
}

func (m *MemoryRegistry) Register(_ context.Context, serviceName string, inst ServiceInstance, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.instances[serviceName] == nil {
		m.instances[serviceName] = make(map[string]ServiceInstance)
	}
	m.instances[serviceName][inst.Addr] = inst
	m.notify(serviceName)
	return nil
}

func (m *MemoryRegistry) Deregister(_ context.Context, serviceName string, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances[serviceName], addr)
	m.notify(serviceName)
	return nil
}

func (m *MemoryRegistry) Discover(_ context.Context, serviceName string) ([]ServiceInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(serviceName), nil
}

func (m *MemoryRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	m.mu.Lock()
	m.watchers[serviceName] = append(m.watchers[serviceName], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		watchers := m.watchers[serviceName]
		for i, w := range watchers {
			if w == ch {
				m.watchers[serviceName] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// list returns instances sorted by address. Callers hold mu.
func (m *MemoryRegistry) list(serviceName string) []ServiceInstance {
	out := make([]ServiceInstance, 0, len(m.instances[serviceName]))
	for _, inst := range m.instances[serviceName] {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Addr < out[j].Addr
	})
	return out
}

// notify replaces any undelivered update with the latest list. Callers hold mu.
func (m *MemoryRegistry) notify(serviceName string) {
	list := m.list(serviceName)
	for _, ch := range m.watchers[serviceName] {
		select {
		case <-ch:
		default:
		}
		ch <- list
	}
}
