package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

// WebSocket carries one envelope per binary message.
type WebSocket struct {
	conn *websocket.Conn
	cfg  Config

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// DialWebSocket performs the WebSocket handshake against url.
func DialWebSocket(ctx context.Context, url string, cfg Config) (*WebSocket, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Annotatef(err, "dialing %s (status %s)", url, resp.Status)
		}
		return nil, errors.Annotatef(err, "dialing %s", url)
	}
	return NewWebSocket(conn, cfg), nil
}

// NewWebSocket wraps an established connection, e.g. one returned by
// websocket.Upgrader on the server side, and starts the keepalive pinger.
func NewWebSocket(conn *websocket.Conn, cfg Config) *WebSocket {
	ws := &WebSocket{
		conn: conn,
		cfg:  cfg,
		done: make(chan struct{}),
	}
	if cfg.HeartbeatInterval > 0 {
		// The peer must answer at least one of two consecutive pings.
		pongWait := 2 * cfg.HeartbeatInterval
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go ws.heartbeatLoop(cfg.HeartbeatInterval)
	}
	return ws
}

func (ws *WebSocket) WriteFrame(frame []byte) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()

	select {
	case <-ws.done:
		return ErrClosed
	default:
	}
	if ws.cfg.WriteTimeout > 0 {
		ws.conn.SetWriteDeadline(time.Now().Add(ws.cfg.WriteTimeout))
	}
	return errors.Trace(ws.conn.WriteMessage(websocket.BinaryMessage, frame))
}

// ReadFrame returns the next binary message. Text messages are not frames
// of this protocol and are skipped.
func (ws *WebSocket) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := ws.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close sends a close frame on a best-effort basis and closes the socket.
func (ws *WebSocket) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		close(ws.done)
		deadline := time.Now().Add(time.Second)
		ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = ws.conn.Close()
	})
	return err
}

func (ws *WebSocket) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			// WriteControl may run concurrently with WriteMessage.
			deadline := time.Now().Add(interval)
			if err := ws.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
