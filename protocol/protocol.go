// Package protocol implements the frame format used by the stream transport.
//
// WebSocket already delivers whole messages; a raw TCP stream does not. On
// streams every envelope is wrapped in a fixed 10-byte header followed by a
// variable-length body. The receiver reads the header first to learn the body
// length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10
//	┌──────┬──┬──┬──┬─────────┬───────────────┐
//	│magic │v │ct│mt│ bodyLen │    body ...    │
//	│ wrp  │01│  │  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴───────────────┘
//
// Correlation lives in the envelope (request_id), not in the header.
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/juju/errors"
)

// Magic number bytes: "wrp".
const (
	MagicNumber byte = 0x77 // 'w'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 10 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (bodyLen)

	// MaxBodyLen bounds a single frame so a corrupt length cannot make the
	// reader allocate gigabytes.
	MaxBodyLen uint32 = 16 << 20
)

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Client → Server
	MsgTypeResponse  MsgType = 1 // Server → Client
	MsgTypeHeartbeat MsgType = 2 // Keepalive probe, no body
)

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeMsgpack byte = 0
	CodecTypeJSON    byte = 1
)

// Header represents the fixed frame header.
type Header struct {
	CodecType byte
	MsgType   MsgType
	BodyLen   uint32
}

// Encode writes a complete frame (header + body) to w.
// The caller must hold a write lock if multiple goroutines share the same
// writer, otherwise frames from different requests interleave.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) > MaxBodyLen {
		return errors.Errorf("frame body of %d bytes exceeds limit %d", len(body), MaxBodyLen)
	}
	buf := make([]byte, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	// One Write per frame so a net.Conn never sees a header without its body.
	if _, err := w.Write(buf); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, codec type, and message type.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, errors.Errorf("invalid magic number: %x", headerBuf[0:3])
	}

	if headerBuf[3] != Version {
		return nil, nil, errors.Errorf("unsupported version: %d", headerBuf[3])
	}

	if headerBuf[4] != CodecTypeMsgpack && headerBuf[4] != CodecTypeJSON {
		return nil, nil, errors.Errorf("unsupported codec type: %d", headerBuf[4])
	}

	msgType := headerBuf[5]
	if msgType != byte(MsgTypeRequest) && msgType != byte(MsgTypeResponse) && msgType != byte(MsgTypeHeartbeat) {
		return nil, nil, errors.Errorf("unsupported message type: %d", msgType)
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[6:10])
	if bodyLen > MaxBodyLen {
		return nil, nil, errors.Errorf("frame body of %d bytes exceeds limit %d", bodyLen, MaxBodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   MsgType(msgType),
		BodyLen:   bodyLen,
	}, body, nil
}
