package client

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"ws-rpc/codec"
	"ws-rpc/message"
	"ws-rpc/transport"
)

// fakeTransport hands written frames to the test and lets the test decide
// what the read loop sees, and in which order.
type fakeTransport struct {
	sent    chan []byte
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu       sync.Mutex
	writeErr error
	readErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent:    make(chan []byte, 128),
		inbound: make(chan []byte),
		closed:  make(chan struct{}),
		readErr: io.EOF,
	}
}

func (f *fakeTransport) WriteFrame(frame []byte) error {
	f.mu.Lock()
	err := f.writeErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case <-f.closed:
		return transport.ErrClosed
	default:
	}
	f.sent <- frame
	return nil
}

func (f *fakeTransport) ReadFrame() ([]byte, error) {
	select {
	case frame := <-f.inbound:
		return frame, nil
	case <-f.closed:
		f.mu.Lock()
		defer f.mu.Unlock()
		return nil, f.readErr
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) failWrites(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

// drop simulates the peer going away with err.
func (f *fakeTransport) drop(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
	f.Close()
}

var testCodec = codec.GetCodec(codec.CodecTypeMsgpack)

func fakeDialer(tr transport.Transport, dials *int) DialFunc {
	return func(context.Context, string, transport.Config) (transport.Transport, error) {
		if dials != nil {
			*dials++
		}
		return tr, nil
	}
}

// openFake returns an open client wired to a fake transport.
func openFake(t *testing.T, opts ...Option) (*Client, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	opts = append([]Option{
		WithRegisterer(prometheus.NewRegistry()),
		WithDialer(fakeDialer(ft, nil)),
	}, opts...)
	c := New(opts...)
	require.NoError(t, c.Open(context.Background(), "ws://fake/rpc"))
	t.Cleanup(func() { c.Close() })
	return c, ft
}

// nextRequest waits for the client to write a request and decodes it.
func nextRequest(t *testing.T, ft *fakeTransport) *message.Request {
	t.Helper()
	select {
	case frame := <-ft.sent:
		var req message.Request
		require.NoError(t, testCodec.Decode(frame, &req))
		return &req
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a request")
		return nil
	}
}

func encodeResponse(t *testing.T, resp *message.Response, body any) []byte {
	t.Helper()
	if body != nil {
		payload, err := testCodec.Encode(body)
		require.NoError(t, err)
		resp.Body = payload
	}
	frame, err := testCodec.Encode(resp)
	require.NoError(t, err)
	return frame
}

// deliver pushes one frame to the client's read loop.
func deliver(t *testing.T, ft *fakeTransport, frame []byte) {
	t.Helper()
	select {
	case ft.inbound <- frame:
	case <-time.After(5 * time.Second):
		t.Fatal("read loop did not accept frame")
	}
}

// answerSum replies to a Sum request with the correct total.
func answerSum(t *testing.T, ft *fakeTransport, req *message.Request) {
	t.Helper()
	var args message.SumRequest
	require.NoError(t, testCodec.Decode(req.Body, &args))
	var total uint64
	for _, v := range args.Operands {
		total += v
	}
	deliver(t, ft, encodeResponse(t, &message.Response{Op: req.Op, RequestID: req.RequestID}, &message.SumResponse{Sum: total}))
}
