package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/juju/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/ws-rpc/"

// EtcdRegistry implements Registry using etcd v3. Each instance is stored
// under a key with a TTL lease:
//
//	Key:   /ws-rpc/{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// If a server dies without deregistering, its lease expires and the entry
// disappears.
type EtcdRegistry struct {
	client *clientv3.Client
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease kept alive by this process
}

// NewEtcdRegistry connects to the given etcd endpoints. logger is handed to
// the etcd client as well.
func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to etcd %v", endpoints)
	}
	return &EtcdRegistry{
		client: c,
		logger: logger.With(zap.String("component", "registry")),
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

func serviceKey(serviceName, addr string) string {
	return keyPrefix + serviceName + "/" + addr
}

func servicePrefix(serviceName string) string {
	return keyPrefix + serviceName + "/"
}

// Register stores instance with a lease of ttl seconds and keeps the lease
// alive until Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.Annotate(err, "granting lease")
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return errors.Trace(err)
	}

	key := serviceKey(serviceName, instance.Addr)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Annotatef(err, "registering %s", key)
	}

	// The keepalive must outlive ctx, which usually belongs to a request.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return errors.Annotatef(err, "keeping %s alive", key)
	}
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("key", key))
	}()

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()

	r.logger.Info("registered", zap.String("key", key), zap.Int64("ttl", ttl))
	return nil
}

// Deregister removes the instance and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	key := serviceKey(serviceName, addr)
	if _, err := r.client.Delete(ctx, key); err != nil {
		return errors.Annotatef(err, "deregistering %s", key)
	}

	r.mu.Lock()
	lease, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if ok {
		if _, err := r.client.Revoke(ctx, lease); err != nil {
			r.logger.Warn("revoking lease", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// Watch emits the full instance list whenever the service's keys change,
// until ctx is done.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, servicePrefix(serviceName), clientv3.WithPrefix())
		for range watchChan {
			// Re-fetch rather than apply individual events.
			instances, err := r.Discover(ctx, serviceName)
			if err != nil {
				r.logger.Warn("refreshing instances", zap.String("service", serviceName), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all currently registered instances for a service.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, servicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Annotatef(err, "discovering %s", serviceName)
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed instance", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close stops all keepalives and closes the etcd client. Registered keys
// expire with their leases.
func (r *EtcdRegistry) Close() error {
	return errors.Trace(r.client.Close())
}
