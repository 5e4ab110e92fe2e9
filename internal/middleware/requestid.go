package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Request id headers, in lookup order. The id is always echoed back as
// HeaderRequestID.
const (
	HeaderRequestID     = "X-Request-ID"
	headerCorrelationID = "X-Correlation-ID"

	maxRequestIDLength = 128
)

type requestIDContextKey struct{}

// RequestID tags each request with an id taken from the client when it is
// printable ASCII of sane length, or a fresh UUID otherwise.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := incomingRequestID(r)
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, rid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDContextKey{}, rid)))
	})
}

// RequestIDFromContext returns the id assigned by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDContextKey{}).(string)
	return rid
}

func incomingRequestID(r *http.Request) string {
	for _, h := range []string{HeaderRequestID, headerCorrelationID} {
		if rid := r.Header.Get(h); validRequestID(rid) {
			return rid
		}
	}
	return ""
}

func validRequestID(rid string) bool {
	if rid == "" || len(rid) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(rid); i++ {
		if c := rid[i]; c < '!' || c > '~' {
			return false
		}
	}
	return true
}
