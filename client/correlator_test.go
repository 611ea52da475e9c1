package client

import (
	"testing"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ws-rpc/message"
)

func newTestCorrelator(t *testing.T) (*correlator, prometheus.Gauge) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "pending"})
	c := newCorrelator(gauge)
	t.Cleanup(func() { c.shutdown(ErrClosed) })
	return c, gauge
}

func TestCorrelatorResolveRemoves(t *testing.T) {
	c, gauge := newTestCorrelator(t)

	done := make(completion, 1)
	require.NoError(t, c.register("a", done))
	assert.Equal(t, 1, c.len())
	assert.Equal(t, 1.0, testutil.ToFloat64(gauge))

	resp := &message.Response{RequestID: "a"}
	found, err := c.resolve("a", resp)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Same(t, resp, (<-done).resp)
	assert.Zero(t, c.len())
	assert.Zero(t, testutil.ToFloat64(gauge))

	// Second resolution is a no-op and nothing more is delivered.
	found, err = c.resolve("a", resp)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, done)
}

func TestCorrelatorDuplicateRegister(t *testing.T) {
	c, _ := newTestCorrelator(t)

	require.NoError(t, c.register("a", make(completion, 1)))
	err := c.register("a", make(completion, 1))
	assert.True(t, errors.Is(err, ErrDuplicateID))
	assert.Equal(t, 1, c.len())
}

func TestCorrelatorDeregister(t *testing.T) {
	c, _ := newTestCorrelator(t)

	done := make(completion, 1)
	require.NoError(t, c.register("a", done))
	assert.True(t, c.deregister("a"))
	assert.False(t, c.deregister("a"))
	found, err := c.resolve("a", &message.Response{RequestID: "a"})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, done)
}

func TestCorrelatorShutdownFailsPending(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "pending"})
	c := newCorrelator(gauge)

	a, b := make(completion, 1), make(completion, 1)
	require.NoError(t, c.register("a", a))
	require.NoError(t, c.register("b", b))

	c.shutdown(ErrClosed)
	c.shutdown(errors.New("ignored"))

	assert.True(t, errors.Is((<-a).err, ErrClosed))
	assert.True(t, errors.Is((<-b).err, ErrClosed))
	assert.Zero(t, testutil.ToFloat64(gauge))

	assert.True(t, errors.Is(c.register("c", make(completion, 1)), ErrClosed))
	found, err := c.resolve("a", &message.Response{})
	assert.True(t, errors.Is(err, ErrClosed), "got %v", err)
	assert.False(t, found)
	assert.Zero(t, c.len())
}
