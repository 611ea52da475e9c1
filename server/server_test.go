package server

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"ws-rpc/client"
	"ws-rpc/codec"
	"ws-rpc/message"
	"ws-rpc/metrics"
	"ws-rpc/middleware"
	"ws-rpc/protocol"
	"ws-rpc/registry"
)

func newCalcServer(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := New(opts...)
	require.NoError(t, s.Register(&Calc{}))
	return s
}

// startWS serves s over WebSocket and returns the ws:// URL.
func startWS(t testing.TB, s *Server) string {
	t.Helper()
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/rpc"
}

// startTCP serves s over framed TCP and returns the tcp:// address.
func startTCP(t testing.TB, s *Server) (string, <-chan error) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- s.Serve(l) }()
	t.Cleanup(func() { l.Close() })
	return "tcp://" + l.Addr().String(), served
}

func openClient(t testing.TB, addr string, opts ...client.Option) *client.Client {
	t.Helper()
	opts = append([]client.Option{client.WithRegisterer(prometheus.NewRegistry())}, opts...)
	c := client.New(opts...)
	require.NoError(t, c.Open(context.Background(), addr))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRawTCPRequest(t *testing.T) {
	s := newCalcServer(t)
	addr, _ := startTCP(t, s)

	conn, err := net.Dial("tcp", strings.TrimPrefix(addr, "tcp://"))
	require.NoError(t, err)
	defer conn.Close()

	cdc := codec.GetCodec(codec.CodecTypeMsgpack)
	args, err := cdc.Encode(&message.SumRequest{Operands: []uint64{1, 2}})
	require.NoError(t, err)
	body, err := cdc.Encode(&message.Request{Op: message.OpSum, RequestID: "req-123", Body: args})
	require.NoError(t, err)
	require.NoError(t, protocol.Encode(conn, &protocol.Header{
		CodecType: protocol.CodecTypeMsgpack,
		MsgType:   protocol.MsgTypeRequest,
	}, body))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	header, reply, err := protocol.Decode(conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgTypeResponse, header.MsgType)

	var resp message.Response
	require.NoError(t, cdc.Decode(reply, &resp))
	assert.Equal(t, "req-123", resp.RequestID)
	assert.Equal(t, message.OpSum, resp.Op)
	assert.Empty(t, resp.Error)

	var sum message.SumResponse
	require.NoError(t, cdc.Decode(resp.Body, &sum))
	assert.EqualValues(t, 3, sum.Sum)
}

func TestUndecodableRequestIsDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newCalcServer(t, WithRegisterer(reg))
	addr, _ := startTCP(t, s)

	conn, err := net.Dial("tcp", strings.TrimPrefix(addr, "tcp://"))
	require.NoError(t, err)
	defer conn.Close()

	header := &protocol.Header{CodecType: protocol.CodecTypeMsgpack, MsgType: protocol.MsgTypeRequest}
	require.NoError(t, protocol.Encode(conn, header, []byte{0xc1}))

	cdc := codec.GetCodec(codec.CodecTypeMsgpack)
	body, err := cdc.Encode(&message.Request{Op: message.OpEcho, RequestID: "after"})
	require.NoError(t, err)
	require.NoError(t, protocol.Encode(conn, header, body))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, reply, err := protocol.Decode(conn)
	require.NoError(t, err)
	var resp message.Response
	require.NoError(t, cdc.Decode(reply, &resp))
	assert.Equal(t, "after", resp.RequestID)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.Requests.WithLabelValues("", metrics.ResultDecodeError)))
}

func TestClientOverWebSocket(t *testing.T) {
	s := newCalcServer(t, WithLogger(zaptest.NewLogger(t)))
	c := openClient(t, startWS(t, s))
	ctx := context.Background()

	sum, err := c.Sum(ctx, []uint64{1, 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, sum)

	text, err := c.Echo(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.Requests.WithLabelValues("Sum", metrics.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.Connections))
}

func TestClientOverTCP(t *testing.T) {
	s := newCalcServer(t)
	addr, _ := startTCP(t, s)
	c := openClient(t, addr)

	sum, err := c.Sum(context.Background(), []uint64{10, 20, 30})
	require.NoError(t, err)
	assert.EqualValues(t, 60, sum)
}

func TestJSONCodec(t *testing.T) {
	s := newCalcServer(t, WithCodec(codec.CodecTypeJSON))
	c := openClient(t, startWS(t, s), client.WithCodec(codec.CodecTypeJSON))

	text, err := c.Echo(context.Background(), "json")
	require.NoError(t, err)
	assert.Equal(t, "json", text)
}

func TestUnknownOperation(t *testing.T) {
	s := newCalcServer(t)
	c := openClient(t, startWS(t, s))

	err := c.Call(context.Background(), "Divide", &message.SumRequest{}, nil)
	var remote *client.RemoteError
	require.True(t, errors.As(err, &remote), "got %v", err)
	assert.Equal(t, `unknown operation "Divide"`, remote.Message)

	// The connection is still usable.
	sum, err := c.Sum(context.Background(), []uint64{4})
	require.NoError(t, err)
	assert.EqualValues(t, 4, sum)
}

func TestSumOverflow(t *testing.T) {
	s := newCalcServer(t)
	c := openClient(t, startWS(t, s))

	_, err := c.Sum(context.Background(), []uint64{1 << 63, 1 << 63})
	var remote *client.RemoteError
	require.True(t, errors.As(err, &remote), "got %v", err)
	assert.Equal(t, "sum overflows uint64", remote.Message)
}

func TestResponsesLeaveOutOfOrder(t *testing.T) {
	s := newCalcServer(t)
	// Delay sleeps Operands[0] milliseconds and answers with it.
	require.NoError(t, s.Handle("Delay", func(ctx context.Context, req *message.Request) *message.Response {
		var args message.SumRequest
		if err := s.codec.Decode(req.Body, &args); err != nil {
			return middleware.ErrorResponse(req, err.Error())
		}
		time.Sleep(time.Duration(args.Operands[0]) * time.Millisecond)
		body, _ := s.codec.Encode(&message.SumResponse{Sum: args.Operands[0]})
		return &message.Response{Body: body}
	}))
	c := openClient(t, startWS(t, s))

	var g errgroup.Group
	order := make(chan uint64, 10)
	for i := 10; i > 0; i-- {
		delay := uint64(i * 20)
		g.Go(func() error {
			var reply message.SumResponse
			if err := c.Call(context.Background(), "Delay", &message.SumRequest{Operands: []uint64{delay}}, &reply); err != nil {
				return err
			}
			if reply.Sum != delay {
				return errors.Errorf("call with delay %d got %d", delay, reply.Sum)
			}
			order <- reply.Sum
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(order)

	// The slowest call was issued first but must not hold back the others.
	first := <-order
	assert.Less(t, first, uint64(200))
	assert.Zero(t, c.Pending())
}

func TestHandlerPanic(t *testing.T) {
	for name, mws := range map[string][]middleware.Middleware{
		"bare": nil,
		// The timeout middleware runs the handler on its own goroutine.
		"with timeout": {
			middleware.LoggingMiddleware(zaptest.NewLogger(t)),
			middleware.TimeoutMiddleware(time.Second),
		},
	} {
		t.Run(name, func(t *testing.T) {
			s := newCalcServer(t)
			for _, mw := range mws {
				s.Use(mw)
			}
			require.NoError(t, s.Handle("Crash", func(context.Context, *message.Request) *message.Response {
				panic("boom")
			}))
			c := openClient(t, startWS(t, s))

			err := c.Call(context.Background(), "Crash", nil, nil)
			var remote *client.RemoteError
			require.True(t, errors.As(err, &remote), "got %v", err)
			assert.Equal(t, "internal error", remote.Message)

			_, err = c.Echo(context.Background(), "still alive")
			assert.NoError(t, err)
		})
	}
}

func TestNilResponseReachesMiddlewareAsError(t *testing.T) {
	s := newCalcServer(t)
	seen := make(chan string, 1)
	s.Use(func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			resp := next(ctx, req)
			seen <- resp.Error
			return resp
		}
	})
	s.Use(middleware.LoggingMiddleware(zaptest.NewLogger(t)))
	require.NoError(t, s.Handle("Nothing", func(context.Context, *message.Request) *message.Response {
		return nil
	}))
	c := openClient(t, startWS(t, s))

	err := c.Call(context.Background(), "Nothing", nil, nil)
	var remote *client.RemoteError
	require.True(t, errors.As(err, &remote), "got %v", err)
	assert.Equal(t, "no response", remote.Message)
	assert.Equal(t, "no response", <-seen)
}

func TestBeginStopsAtShutdown(t *testing.T) {
	s := newCalcServer(t)
	require.True(t, s.begin())
	s.inflight.Done()

	require.NoError(t, s.Shutdown(time.Second))
	assert.False(t, s.begin())
}

func TestMiddlewareChain(t *testing.T) {
	s := newCalcServer(t)
	s.Use(middleware.LoggingMiddleware(zaptest.NewLogger(t)))
	s.Use(middleware.RateLimitMiddleware(0.001, 1))
	c := openClient(t, startWS(t, s))

	_, err := c.Echo(context.Background(), "first")
	require.NoError(t, err)

	_, err = c.Echo(context.Background(), "second")
	var remote *client.RemoteError
	require.True(t, errors.As(err, &remote), "got %v", err)
	assert.Equal(t, middleware.ErrRateLimited, remote.Message)
}

func TestRegisterRejects(t *testing.T) {
	s := New()

	err := s.Register(Calc{})
	assert.True(t, errors.Is(err, errors.NotValid), "got %v", err)

	type empty struct{}
	err = s.Register(&empty{})
	assert.True(t, errors.Is(err, errors.NotFound), "got %v", err)

	require.NoError(t, s.Register(&Calc{}))
	err = s.Handle(message.OpSum, func(context.Context, *message.Request) *message.Response { return nil })
	assert.True(t, errors.Is(err, errors.AlreadyExists), "got %v", err)
}

func TestShutdown(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	s := newCalcServer(t)
	addr, served := startTCP(t, s)

	require.NoError(t, s.Advertise(ctx, reg, "calc", registry.ServiceInstance{Addr: addr, Weight: 1}, 10))
	instances, err := reg.Discover(ctx, "calc")
	require.NoError(t, err)
	require.Len(t, instances, 1)

	c := openClient(t, addr)
	_, err = c.Echo(ctx, "before")
	require.NoError(t, err)

	require.NoError(t, s.Shutdown(time.Second))

	instances, err = reg.Discover(ctx, "calc")
	require.NoError(t, err)
	assert.Empty(t, instances)

	select {
	case err := <-served:
		assert.True(t, errors.Is(err, ErrShutdown), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	require.Eventually(t, func() bool { return c.State() == client.StateClosed }, 5*time.Second, 10*time.Millisecond)
	_, err = c.Echo(ctx, "after")
	assert.True(t, errors.Is(err, client.ErrClosed), "got %v", err)
}

func TestShutdownWaitsForInflight(t *testing.T) {
	s := newCalcServer(t)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Handle("Block", func(_ context.Context, req *message.Request) *message.Response {
		close(started)
		<-release
		return &message.Response{}
	}))
	c := openClient(t, startWS(t, s))

	errc := make(chan error, 1)
	go func() { errc <- c.Call(context.Background(), "Block", nil, nil) }()
	<-started

	err := s.Shutdown(50 * time.Millisecond)
	assert.ErrorContains(t, err, "timeout waiting for in-flight requests")
	close(release)
	assert.True(t, errors.Is(<-errc, client.ErrClosed))
}
