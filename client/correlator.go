package client

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"ws-rpc/message"
)

// result is what a pending call receives exactly once.
type result struct {
	resp *message.Response
	err  error
}

// completion is a one-shot channel. It is created with capacity 1 and
// receives at most one value, so delivering never blocks the dispatcher.
type completion chan result

type pendingTable map[string]completion

// correlator owns the table of outstanding calls. All access goes through a
// single goroutine; callers and the read loop send it operations over a
// channel instead of sharing a lock.
type correlator struct {
	ops     chan func(pendingTable)
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
	stopErr error
	gauge   prometheus.Gauge
}

func newCorrelator(gauge prometheus.Gauge) *correlator {
	c := &correlator{
		ops:     make(chan func(pendingTable)),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		gauge:   gauge,
	}
	go c.loop()
	return c
}

func (c *correlator) loop() {
	defer close(c.stopped)
	table := make(pendingTable)
	for {
		select {
		case op := <-c.ops:
			op(table)
			c.gauge.Set(float64(len(table)))
		case <-c.stop:
			for id, done := range table {
				done <- result{err: c.stopErr}
				delete(table, id)
			}
			c.gauge.Set(0)
			return
		}
	}
}

// do runs op on the dispatcher goroutine and waits for it to finish.
func (c *correlator) do(op func(pendingTable)) error {
	finished := make(chan struct{})
	select {
	case c.ops <- func(t pendingTable) {
		op(t)
		close(finished)
	}:
	case <-c.stopped:
		return ErrClosed
	}
	<-finished
	return nil
}

// register records done under id. It must happen before the request for id
// is written, or a fast response could arrive for an unknown id.
func (c *correlator) register(id string, done completion) error {
	var dup bool
	err := c.do(func(t pendingTable) {
		if _, dup = t[id]; !dup {
			t[id] = done
		}
	})
	if err != nil {
		return err
	}
	if dup {
		return ErrDuplicateID
	}
	return nil
}

// resolve delivers resp to the call registered under id and removes the
// entry in the same step. It reports false if no such call is pending, and
// ErrClosed once the correlator has stopped.
func (c *correlator) resolve(id string, resp *message.Response) (bool, error) {
	var found bool
	err := c.do(func(t pendingTable) {
		var done completion
		if done, found = t[id]; found {
			delete(t, id)
			done <- result{resp: resp}
		}
	})
	return found, err
}

// deregister drops id without resolving it.
func (c *correlator) deregister(id string) bool {
	var found bool
	c.do(func(t pendingTable) {
		if _, found = t[id]; found {
			delete(t, id)
		}
	})
	return found
}

func (c *correlator) len() int {
	var n int
	c.do(func(t pendingTable) {
		n = len(t)
	})
	return n
}

// shutdown fails every pending call with err and stops the dispatcher.
// Later operations return ErrClosed.
func (c *correlator) shutdown(err error) {
	c.once.Do(func() {
		c.stopErr = err
		close(c.stop)
	})
	<-c.stopped
}
