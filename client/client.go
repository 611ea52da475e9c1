// Package client issues calls over a single duplex connection and pairs each
// response with the call that caused it.
//
// Every call is tagged with a fresh correlation id (a UUIDv4). The id is
// registered with a one-shot completion before the request is written; the
// read loop decodes each inbound frame and resolves the completion with the
// matching id, removing it in the same step. Responses may arrive in any
// order.
//
//	goroutine-1 ──Call(id=a)──┐
//	goroutine-2 ──Call(id=b)──┼──→ one WebSocket ──→ Server
//	goroutine-3 ──Call(id=c)──┘
//
//	readLoop: ←── response(id=b) → correlator → goroutine-2 wakes up
package client

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"ws-rpc/codec"
	"ws-rpc/metrics"
	"ws-rpc/transport"
)

// State is the lifecycle of a Client.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DialFunc opens a transport. transport.Dial is the default.
type DialFunc func(ctx context.Context, address string, cfg transport.Config) (transport.Transport, error)

type options struct {
	logger     *zap.Logger
	codecType  codec.CodecType
	transport  transport.Config
	registerer prometheus.Registerer
	dial       DialFunc
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCodec selects the envelope codec. The server must use the same one.
func WithCodec(t codec.CodecType) Option {
	return func(o *options) { o.codecType = t }
}

func WithTransportConfig(cfg transport.Config) Option {
	return func(o *options) { o.transport = cfg }
}

// WithRegisterer registers the client's collectors on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

func WithDialer(dial DialFunc) Option {
	return func(o *options) { o.dial = dial }
}

// Client is one connection plus its table of outstanding calls. The zero
// state is uninitialized; Open moves it to open exactly once. A closed
// client cannot be reopened: construct a new one.
type Client struct {
	logger  *zap.Logger
	codec   codec.Codec
	cfg     transport.Config
	dial    DialFunc
	metrics *metrics.Client

	mu    sync.Mutex // guards the fields below
	state State
	tr    transport.Transport
	corr  *correlator
	done  chan struct{} // closed when the read loop exits
}

func New(opts ...Option) *Client {
	o := options{
		logger:    zap.NewNop(),
		codecType: codec.CodecTypeMsgpack,
		transport: transport.DefaultConfig(),
		dial:      transport.Dial,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.transport.CodecType = byte(o.codecType)
	return &Client{
		logger:  o.logger.With(zap.String("component", "client")),
		codec:   codec.GetCodec(o.codecType),
		cfg:     o.transport,
		dial:    o.dial,
		metrics: metrics.NewClient(o.registerer),
		state:   StateUninitialized,
	}
}

// Open connects to address and blocks until the transport is ready or has
// failed. On failure the client stays uninitialized and may be opened again.
func (c *Client) Open(ctx context.Context, address string) error {
	c.mu.Lock()
	if c.state != StateUninitialized {
		state := c.state
		c.mu.Unlock()
		return errors.Annotatef(ErrAlreadyInitialized, "client is %s", state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.logger.Debug("connecting", zap.String("address", address))
	tr, err := c.dial(ctx, address, c.cfg)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateUninitialized
		c.logger.Error("connect failed", zap.String("address", address), zap.Error(err))
		return errors.Annotatef(err, "opening %s", address)
	}
	if c.state != StateConnecting {
		// Closed while dialing.
		tr.Close()
		return ErrClosed
	}

	c.tr = tr
	c.corr = newCorrelator(c.metrics.Pending)
	c.done = make(chan struct{})
	c.state = StateOpen
	go c.readLoop(tr, c.corr, c.done)

	c.logger.Info("connection open", zap.String("address", address))
	return nil
}

// Close closes the transport. Calls still pending fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	prev := c.state
	c.state = StateClosed
	tr, corr, done := c.tr, c.corr, c.done
	c.mu.Unlock()

	if prev != StateOpen {
		return nil
	}
	err := tr.Close()
	corr.shutdown(ErrClosed)
	<-done
	return errors.Trace(err)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of calls awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	corr := c.corr
	c.mu.Unlock()
	if corr == nil {
		return 0
	}
	return corr.len()
}

// session returns the live transport and correlator, or the error a call
// should fail with.
func (c *Client) session() (transport.Transport, *correlator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateOpen:
		return c.tr, c.corr, nil
	case StateClosed:
		return nil, nil, ErrClosed
	default:
		return nil, nil, ErrNotInitialized
	}
}

// readLoop delivers each inbound frame to dispatch, in transport order.
// A read error ends the connection and fails every pending call.
func (c *Client) readLoop(tr transport.Transport, corr *correlator, done chan struct{}) {
	defer close(done)
	for {
		frame, err := tr.ReadFrame()
		if err != nil {
			c.mu.Lock()
			closing := c.state == StateClosed
			c.state = StateClosed
			c.mu.Unlock()

			if closing || transport.IsNormalClose(err) {
				c.logger.Debug("connection closed", zap.Error(err))
			} else {
				c.logger.Warn("connection lost", zap.Error(err))
			}
			tr.Close()
			corr.shutdown(errors.Annotatef(ErrClosed, "read failed (%v)", err))
			return
		}
		c.dispatch(corr, frame)
	}
}
