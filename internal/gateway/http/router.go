package gatewayhttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fitsgw/pkg/platform/middleware/metadata"
	"fitsgw/pkg/requestcontext"
)

// NewRouter mounts h and the request-scoped context middleware that every
// handler relies on (request ID, client IP, request time).
func NewRouter(h *Handler, authMiddleware func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestContextMiddleware)
	if authMiddleware != nil {
		r.Use(authMiddleware)
	}
	h.Register(r)
	return r
}

// requestContextMiddleware injects a request ID (from X-Request-ID if the
// caller supplied one, else a fresh uuid), the client IP, and the request
// time, following the teacher's requestcontext population pattern. Client
// IP extraction (X-Forwarded-For/X-Real-IP/RemoteAddr fallback) is the
// teacher's pkg/platform/middleware/metadata helper.
func requestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		ctx = requestcontext.WithClientIP(ctx, metadata.ClientIPFromRequest(r))
		ctx = requestcontext.WithTime(ctx, time.Now())

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
