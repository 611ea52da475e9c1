// Package message defines the envelopes exchanged between client and server.
//
// Every frame on the wire carries exactly one envelope. The envelope shape is
// fixed; the operation set is open:
//
//	Request:  {op, request_id, body}
//	Response: {op, request_id, body, error}
//
// Body holds the operation-specific payload, already encoded with the same
// codec as the envelope, so routing code never needs to know payload types.
package message

import "github.com/juju/errors"

// Op names a remote operation, e.g. "Sum".
type Op string

// Request is sent client → server.
type Request struct {
	Op        Op     `msgpack:"op" json:"op"`
	RequestID string `msgpack:"request_id" json:"request_id"`
	Body      []byte `msgpack:"body" json:"body"`
}

// Response is sent server → client. RequestID echoes the request's id.
// Error is non-empty when the server-side handler failed.
type Response struct {
	Op        Op     `msgpack:"op" json:"op"`
	RequestID string `msgpack:"request_id" json:"request_id"`
	Body      []byte `msgpack:"body" json:"body"`
	Error     string `msgpack:"error,omitempty" json:"error,omitempty"`
}

// Validate reports whether the request can be routed.
func (r *Request) Validate() error {
	if r.Op == "" {
		return errors.NotValidf("request without op")
	}
	if r.RequestID == "" {
		return errors.NotValidf("%s request without request_id", r.Op)
	}
	return nil
}

// Validate reports whether the response can be paired with a request.
func (r *Response) Validate() error {
	if r.RequestID == "" {
		return errors.NotValidf("%s response without request_id", r.Op)
	}
	return nil
}
