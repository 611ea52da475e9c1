// Package server answers requests from ws-rpc clients.
//
// Request processing pipeline:
//
//	Accept conn → serveConn (single goroutine reads frames)
//	  → for each request: go handleFrame (parallel processing)
//	    → Codec.Decode → Middleware Chain → operation handler → Codec.Encode → WriteFrame
//
// Responses are written through the connection's transport, which holds a
// write lock per frame, so concurrent handlers never interleave. Each
// response echoes its request's request_id; responses may leave in any
// order.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"ws-rpc/codec"
	"ws-rpc/message"
	"ws-rpc/metrics"
	"ws-rpc/middleware"
	"ws-rpc/protocol"
	"ws-rpc/registry"
	"ws-rpc/transport"
)

// ErrShutdown is returned by Serve after Shutdown.
const ErrShutdown = errors.ConstError("server shut down")

// errNoResponse is the Response.Error text for a handler that returned nil.
const errNoResponse = "no response"

type options struct {
	logger     *zap.Logger
	codecType  codec.CodecType
	transport  transport.Config
	registerer prometheus.Registerer
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCodec selects the envelope codec. Clients must use the same one.
func WithCodec(t codec.CodecType) Option {
	return func(o *options) { o.codecType = t }
}

func WithTransportConfig(cfg transport.Config) Option {
	return func(o *options) { o.transport = cfg }
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// advertisement is a registry entry made by Advertise and removed on
// Shutdown.
type advertisement struct {
	reg     registry.Registry
	service string
	addr    string
}

// Server dispatches requests to registered operations.
type Server struct {
	logger   *zap.Logger
	codec    codec.Codec
	cfg      transport.Config
	metrics  *metrics.Server
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	handlers    map[message.Op]middleware.HandlerFunc
	middlewares []middleware.Middleware
	chain       middleware.HandlerFunc // built on first use
	listeners   []net.Listener
	conns       map[transport.Transport]struct{}
	adverts     []advertisement

	inflight sync.WaitGroup // requests being handled
	shutdown atomic.Bool
}

func New(opts ...Option) *Server {
	o := options{
		logger:    zap.NewNop(),
		codecType: codec.CodecTypeMsgpack,
		transport: transport.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.transport.CodecType = byte(o.codecType)
	return &Server{
		logger:  o.logger.With(zap.String("component", "server")),
		codec:   codec.GetCodec(o.codecType),
		cfg:     o.transport,
		metrics: metrics.NewServer(o.registerer),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: o.transport.HandshakeTimeout,
		},
		handlers: make(map[message.Op]middleware.HandlerFunc),
		conns:    make(map[transport.Transport]struct{}),
	}
}

// Register exposes every method of rcvr with the signature
// func(context.Context, *Args, *Reply) error as an operation named after
// the method.
func (s *Server) Register(rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return errors.Trace(err)
	}
	for op, m := range svc.method {
		if err := s.Handle(op, svc.handler(m, s.codec)); err != nil {
			return errors.Trace(err)
		}
	}
	s.logger.Debug("registered service", zap.String("service", svc.name), zap.Int("operations", len(svc.method)))
	return nil
}

// Handle exposes h as op.
func (s *Server) Handle(op message.Op, h middleware.HandlerFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[op]; ok {
		return errors.AlreadyExistsf("operation %s", op)
	}
	s.handlers[op] = h
	return nil
}

// Use adds a middleware. Middlewares run in the order they are added and
// must be added before the first request is served.
func (s *Server) Use(mw middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, mw)
	s.chain = nil
}

func (s *Server) handler() middleware.HandlerFunc {
	s.mu.RLock()
	h := s.chain
	s.mu.RUnlock()
	if h != nil {
		return h
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chain == nil {
		s.chain = middleware.Chain(s.middlewares...)(s.route)
	}
	return s.chain
}

// route is the innermost handler: it looks up the operation. It runs on
// whatever goroutine the middlewares call it from, so a handler panic is
// recovered here rather than by the caller of the chain.
func (s *Server) route(ctx context.Context, req *message.Request) (resp *message.Response) {
	s.mu.RLock()
	h, ok := s.handlers[req.Op]
	s.mu.RUnlock()
	if !ok {
		return middleware.ErrorResponse(req, fmt.Sprintf("unknown operation %q", req.Op))
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked",
				zap.String("op", string(req.Op)),
				zap.String("request_id", req.RequestID),
				zap.Any("panic", r))
			resp = middleware.ErrorResponse(req, middleware.ErrInternal)
		}
	}()
	resp = h(ctx, req)
	if resp == nil {
		resp = middleware.ErrorResponse(req, errNoResponse)
	}
	return resp
}

// ServeHTTP upgrades the request to a WebSocket and serves it until the
// peer goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.shutdown.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	s.serveConn(transport.NewWebSocket(conn, s.cfg), r.RemoteAddr)
}

// Serve accepts framed TCP connections on l until l fails or Shutdown is
// called, in which case it returns ErrShutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return ErrShutdown
			}
			return errors.Annotate(err, "accepting connection")
		}
		go s.serveConn(transport.NewStream(conn, protocol.MsgTypeResponse, s.cfg), conn.RemoteAddr().String())
	}
}

// serveConn reads frames sequentially and hands each to its own goroutine.
func (s *Server) serveConn(tr transport.Transport, remote string) {
	logger := s.logger.With(zap.String("remote", remote))
	if !s.track(tr) {
		tr.Close()
		return
	}
	defer s.untrack(tr)
	s.metrics.Connections.Inc()
	defer s.metrics.Connections.Dec()
	logger.Debug("connection accepted")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for {
		frame, err := tr.ReadFrame()
		if err != nil {
			if s.shutdown.Load() || transport.IsNormalClose(err) {
				logger.Debug("connection closed", zap.Error(err))
			} else {
				logger.Warn("connection lost", zap.Error(err))
			}
			tr.Close()
			return
		}
		if !s.begin() {
			logger.Debug("dropping request during shutdown")
			tr.Close()
			return
		}
		go s.handleFrame(ctx, tr, frame, logger)
	}
}

func (s *Server) handleFrame(ctx context.Context, tr transport.Transport, frame []byte, logger *zap.Logger) {
	defer s.inflight.Done()
	start := time.Now()

	var req message.Request
	if err := s.codec.Decode(frame, &req); err != nil {
		s.metrics.ObserveRequest("", metrics.ResultDecodeError, time.Since(start))
		logger.Warn("dropping undecodable frame", zap.Int("bytes", len(frame)), zap.Error(err))
		return
	}
	if req.RequestID == "" {
		// Nothing to echo, so nobody could match a reply.
		s.metrics.ObserveRequest(string(req.Op), metrics.ResultDecodeError, time.Since(start))
		logger.Warn("dropping request without request_id", zap.String("op", string(req.Op)))
		return
	}

	var resp *message.Response
	if err := req.Validate(); err != nil {
		resp = middleware.ErrorResponse(&req, err.Error())
	} else {
		resp = s.invoke(ctx, &req, logger)
	}
	resp.Op = req.Op
	resp.RequestID = req.RequestID

	result := metrics.ResultOK
	if resp.Error != "" {
		result = metrics.ResultRemoteError
	}
	s.metrics.ObserveRequest(string(req.Op), result, time.Since(start))

	out, err := s.codec.Encode(resp)
	if err != nil {
		logger.Error("encoding response", zap.String("request_id", req.RequestID), zap.Error(err))
		return
	}
	if err := tr.WriteFrame(out); err != nil {
		logger.Debug("writing response", zap.String("request_id", req.RequestID), zap.Error(err))
	}
}

// invoke runs the handler chain. Panics in middlewares running on this
// goroutine become error responses; route covers the handlers.
func (s *Server) invoke(ctx context.Context, req *message.Request, logger *zap.Logger) (resp *message.Response) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked",
				zap.String("op", string(req.Op)),
				zap.String("request_id", req.RequestID),
				zap.Any("panic", r))
			resp = middleware.ErrorResponse(req, middleware.ErrInternal)
		}
	}()
	resp = s.handler()(ctx, req)
	if resp == nil {
		resp = middleware.ErrorResponse(req, errNoResponse)
	}
	return resp
}

// begin counts a request as in flight unless Shutdown has started. The
// flag is set under the write lock, so every Add happens before Wait.
func (s *Server) begin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.shutdown.Load() {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Server) track(tr transport.Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.conns[tr] = struct{}{}
	return true
}

func (s *Server) untrack(tr transport.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, tr)
}

// Advertise registers addr under service in reg with a lease of ttl
// seconds. Shutdown deregisters it.
func (s *Server) Advertise(ctx context.Context, reg registry.Registry, service string, inst registry.ServiceInstance, ttl int64) error {
	if err := reg.Register(ctx, service, inst, ttl); err != nil {
		return errors.Annotatef(err, "advertising %s at %s", service, inst.Addr)
	}
	s.mu.Lock()
	s.adverts = append(s.adverts, advertisement{reg: reg, service: service, addr: inst.Addr})
	s.mu.Unlock()
	s.logger.Info("advertised", zap.String("service", service), zap.String("address", inst.Addr))
	return nil
}

// Shutdown stops the server:
//  1. deregister from service discovery so clients stop picking it
//  2. close listeners so no new connections arrive
//  3. wait up to timeout for in-flight requests
//  4. close the remaining connections
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	s.shutdown.Store(true)
	adverts := s.adverts
	s.adverts = nil
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, a := range adverts {
		if err := a.reg.Deregister(ctx, a.service, a.addr); err != nil {
			s.logger.Warn("deregister failed", zap.String("service", a.service), zap.Error(err))
		}
	}
	for _, l := range listeners {
		l.Close()
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Errorf("timeout waiting for in-flight requests")
	}

	s.mu.Lock()
	conns := make([]transport.Transport, 0, len(s.conns))
	for tr := range s.conns {
		conns = append(conns, tr)
	}
	s.mu.Unlock()
	for _, tr := range conns {
		tr.Close()
	}
	return err
}
