package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"

	"ws-rpc/protocol"
)

// Stream frames envelopes over a byte stream with the protocol header.
type Stream struct {
	conn     net.Conn
	cfg      Config
	outbound protocol.MsgType

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// DialStream connects to a TCP address and returns a client-side stream,
// which writes request frames.
func DialStream(ctx context.Context, addr string, cfg Config) (*Stream, error) {
	dialer := net.Dialer{Timeout: cfg.HandshakeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "dialing %s", addr)
	}
	return NewStream(conn, protocol.MsgTypeRequest, cfg), nil
}

// NewStream wraps conn. outbound is the message type stamped on written
// frames: requests for clients, responses for servers.
func NewStream(conn net.Conn, outbound protocol.MsgType, cfg Config) *Stream {
	s := &Stream{
		conn:     conn,
		cfg:      cfg,
		outbound: outbound,
		done:     make(chan struct{}),
	}
	if cfg.HeartbeatInterval > 0 {
		go s.heartbeatLoop(cfg.HeartbeatInterval)
	}
	return s
}

func (s *Stream) WriteFrame(frame []byte) error {
	return s.write(s.outbound, frame)
}

// ReadFrame returns the body of the next non-heartbeat frame. With
// heartbeats enabled, a peer silent for two intervals is treated as gone.
func (s *Stream) ReadFrame() ([]byte, error) {
	for {
		if s.cfg.HeartbeatInterval > 0 {
			s.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.HeartbeatInterval))
		}
		header, body, err := protocol.Decode(s.conn)
		if err != nil {
			return nil, err
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		return body, nil
	}
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// write holds the lock for the whole frame so concurrent writers never
// interleave a header with another frame's body.
func (s *Stream) write(msgType protocol.MsgType, body []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if s.cfg.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	header := &protocol.Header{
		CodecType: s.cfg.CodecType,
		MsgType:   msgType,
	}
	return protocol.Encode(s.conn, header, body)
}

// heartbeatLoop sends empty heartbeat frames so idle connections are not
// reaped by middleboxes.
func (s *Stream) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(protocol.MsgTypeHeartbeat, nil); err != nil {
				return
			}
		}
	}
}
