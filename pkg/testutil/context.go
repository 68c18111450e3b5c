package testutil

import (
	"net/http"

	"fitsgw/pkg/requestcontext"
)

// WithSubject injects an authenticated subject into the request context,
// simulating what session.RequireAuth would do for an authenticated
// request.
func WithSubject(req *http.Request, subject string) *http.Request {
	ctx := requestcontext.WithSubject(req.Context(), subject)
	return req.WithContext(ctx)
}

// WithRequestID injects a request ID into the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	ctx := requestcontext.WithRequestID(req.Context(), requestID)
	return req.WithContext(ctx)
}

// WithClientIP injects a client IP into the request context.
func WithClientIP(req *http.Request, ip string) *http.Request {
	ctx := requestcontext.WithClientIP(req.Context(), ip)
	return req.WithContext(ctx)
}
