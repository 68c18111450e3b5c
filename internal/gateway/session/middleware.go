package session

import (
	"log/slog"
	"net/http"
	"strings"

	"fitsgw/pkg/requestcontext"
)

// RequireAuth returns middleware that resolves the Authorization bearer
// token to a subject and injects it via requestcontext.WithSubject.
// Requests with a missing or invalid token are rejected with 401 before
// reaching next, mirroring the teacher's RequireAuth shape.
func RequireAuth(validator *Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token", "request_id", requestID)
				writeUnauthorized(w)
				return
			}

			subject, err := validator.ValidateToken(ctx, token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token", "error", err, "request_id", requestID)
				writeUnauthorized(w)
				return
			}

			ctx = requestcontext.WithSubject(ctx, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth returns middleware that resolves a bearer token to a
// subject when present and valid, but lets the request through
// unauthenticated otherwise (as an empty subject). The access-check store
// decides per-path whether an empty subject is still sufficient (a
// GRANTED or DATE_ONLY policy needs no subject at all); ROW_ONLY and
// ROW_DATE paths simply deny an anonymous subject.
func OptionalAuth(validator *Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			authHeader := r.Header.Get("Authorization")
			if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
				subject, err := validator.ValidateToken(ctx, token)
				if err != nil {
					logger.WarnContext(ctx, "ignoring invalid bearer token", "error", err, "request_id", requestID)
				} else {
					ctx = requestcontext.WithSubject(ctx, subject)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"missing or invalid bearer token"}`))
}
