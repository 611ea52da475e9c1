package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"ws-rpc/message"
)

// ErrRateLimited is the Response.Error text for a rejected request.
const ErrRateLimited = "rate limit exceeded"

// RateLimitMiddleware admits r requests per second with bursts of burst,
// shared by every connection of the server. Requests over the limit are
// rejected immediately rather than queued.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return ErrorResponse(req, ErrRateLimited)
			}
			return next(ctx, req)
		}
	}
}
