package middleware

import (
	"context"
	"time"

	"ws-rpc/message"
)

// ErrTimedOut is the Response.Error text for a handler that overran.
const ErrTimedOut = "request timed out"

// ErrInternal is the Response.Error text for a handler that panicked.
const ErrInternal = "internal error"

// TimeoutMiddleware answers with ErrTimedOut if next has not returned within
// timeout. next keeps running with a cancelled context; its late response is
// discarded.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				// Nothing above this goroutine can recover its panics.
				defer func() {
					if r := recover(); r != nil {
						done <- ErrorResponse(req, ErrInternal)
					}
				}()
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return ErrorResponse(req, ErrTimedOut)
			}
		}
	}
}
