// Package codec serialises envelopes and payloads.
//
// MessagePack is the wire default; JSON is kept for debugging sessions where a
// human needs to read frames off the socket.
package codec

import (
	"strings"

	"github.com/juju/errors"
)

type CodecType byte

const (
	CodecTypeMsgpack CodecType = 0
	CodecTypeJSON    CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=MessagePack, 1=JSON
}

// GetCodec returns the codec for codecType, falling back to MessagePack.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &MsgpackCodec{}
}

// ParseCodecType maps a config name to a CodecType. The empty string selects
// MessagePack.
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "msgpack", "messagepack":
		return CodecTypeMsgpack, nil
	case "json":
		return CodecTypeJSON, nil
	default:
		return 0, errors.NotSupportedf("codec %q", name)
	}
}

// Valid reports whether t names a known codec.
func (t CodecType) Valid() bool {
	return t == CodecTypeMsgpack || t == CodecTypeJSON
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeMsgpack:
		return "msgpack"
	case CodecTypeJSON:
		return "json"
	default:
		return "unknown"
	}
}
