// Package transport provides message-framed duplex connections.
//
// A Transport moves whole frames: one WriteFrame on one side yields exactly
// one ReadFrame on the other. Two implementations exist:
//
//	ws://host/path, wss://host/path  → WebSocket binary messages
//	tcp://host:port                  → raw TCP with the protocol frame header
//
// WriteFrame is safe for concurrent use; ReadFrame must be called from a
// single goroutine, since reads on a stream have to be sequential to find
// frame boundaries.
package transport

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"

	"ws-rpc/protocol"
)

// Transport is one duplex, message-framed connection.
type Transport interface {
	WriteFrame(frame []byte) error
	ReadFrame() ([]byte, error)
	Close() error
}

// Config holds dial and keepalive settings shared by both transports.
type Config struct {
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration // 0 disables keepalive
	// CodecType is stamped into stream frame headers. WebSocket frames carry
	// no header.
	CodecType byte
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      15 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		CodecType:         protocol.CodecTypeMsgpack,
	}
}

// Dial opens a transport to address, choosing the implementation from the
// URL scheme. It returns once the connection is ready or has failed.
func Dial(ctx context.Context, address string, cfg Config) (Transport, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, errors.Annotatef(err, "parsing address %q", address)
	}
	switch u.Scheme {
	case "ws", "wss":
		return DialWebSocket(ctx, address, cfg)
	case "tcp":
		if u.Host == "" {
			return nil, errors.NotValidf("address %q without host", address)
		}
		return DialStream(ctx, u.Host, cfg)
	default:
		return nil, errors.NotSupportedf("transport scheme %q", u.Scheme)
	}
}

// IsNormalClose reports whether err is the expected result of reading from a
// transport that was closed by either side.
func IsNormalClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// ErrClosed is returned by WriteFrame after Close.
const ErrClosed = errors.ConstError("transport closed")
