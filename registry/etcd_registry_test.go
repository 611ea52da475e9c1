package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// etcdEndpoints skips the test unless WSRPC_ETCD_ENDPOINTS names a live
// cluster, e.g. "127.0.0.1:2379".
func etcdEndpoints(t *testing.T) []string {
	raw := os.Getenv("WSRPC_ETCD_ENDPOINTS")
	if raw == "" {
		t.Skip("WSRPC_ETCD_ENDPOINTS not set")
	}
	return strings.Split(raw, ",")
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	service := "Arith-" + t.Name()
	inst1 := ServiceInstance{Addr: "ws://127.0.0.1:8001/rpc", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "ws://127.0.0.1:8002/rpc", Weight: 5, Version: "1.0"}

	require.NoError(t, reg.Register(ctx, service, inst1, 10))
	require.NoError(t, reg.Register(ctx, service, inst2, 10))
	defer reg.Deregister(ctx, service, inst2.Addr)

	instances, err := reg.Discover(ctx, service)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ServiceInstance{inst1, inst2}, instances)

	updates := reg.Watch(ctx, service)
	require.NoError(t, reg.Deregister(ctx, service, inst1.Addr))

	select {
	case got := <-updates:
		assert.Equal(t, []ServiceInstance{inst2}, got)
	case <-ctx.Done():
		t.Fatal("no watch update after deregister")
	}
}
