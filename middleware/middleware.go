// Package middleware wraps server handlers. Chain(A, B, C)(h) runs as
// A(B(C(h))): A sees the request first and the response last.
package middleware

import (
	"context"

	"ws-rpc/message"
)

// HandlerFunc answers one request. It always returns a response; failures
// are carried in Response.Error.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one, outermost first.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// ErrorResponse answers req with a failure.
func ErrorResponse(req *message.Request, text string) *message.Response {
	return &message.Response{
		Op:        req.Op,
		RequestID: req.RequestID,
		Error:     text,
	}
}
