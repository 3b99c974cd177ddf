// Package http provides HTTP middleware that meters response traffic
// against a subject's quota.
package http

import (
	"context"
	"net/http"

	"github.com/quotaledger/quotaledger/pkg/quotaledger"
)

// SubjectIDExtractor extracts the subject ID from an HTTP request.
// Return empty string if the subject is not authenticated.
type SubjectIDExtractor func(r *http.Request) string

// Config holds middleware configuration.
type Config struct {
	// Manager is the quota manager instance (required).
	Manager *quotaledger.Manager

	// GetSubjectID extracts the subject ID from a request (required).
	GetSubjectID SubjectIDExtractor

	// OnExhausted is called when the subject has no remaining capacity.
	// If nil, returns 429 Too Many Requests.
	OnExhausted func(w http.ResponseWriter, r *http.Request)

	// OnUnauthorized is called when the subject is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// countingResponseWriter counts the bytes written to the response body.
type countingResponseWriter struct {
	http.ResponseWriter
	bytes int64
}

func (w *countingResponseWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

// Middleware creates an HTTP middleware that gates requests on remaining
// quota and charges the response size afterwards. The charge happens after
// the response is written, so a subject can overshoot by at most one
// response; the allocator clamps each draw to what its grants hold.
func Middleware(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subjectID := config.GetSubjectID(r)
			if subjectID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			ctx := r.Context()
			remaining, err := config.Manager.Remaining(ctx, subjectID)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}
			if remaining <= 0 {
				if config.OnExhausted != nil {
					config.OnExhausted(w, r)
				} else {
					http.Error(w, "Quota exhausted", http.StatusTooManyRequests)
				}
				return
			}

			counter := &countingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(counter, r)

			if counter.bytes > 0 {
				// Best effort: the response is already on the wire.
				_, _ = config.Manager.Charge(ctx, subjectID, counter.bytes)
			}
		})
	}
}

// HandlerFunc creates an HTTP middleware that meters quota (HandlerFunc
// version).
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// ContextKey is a type for context keys.
type ContextKey string

const (
	// SubjectIDKey is the context key for the subject ID.
	SubjectIDKey ContextKey = "quota:subjectID"
)

// FromContext returns a SubjectIDExtractor that reads the subject ID from
// the request context.
func FromContext(key ContextKey) SubjectIDExtractor {
	return func(r *http.Request) string {
		if subjectID, ok := r.Context().Value(key).(string); ok {
			return subjectID
		}
		return ""
	}
}

// FromHeader returns a SubjectIDExtractor that reads the subject ID from a
// header.
func FromHeader(headerName string) SubjectIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// WithSubjectID adds the subject ID to a request context.
func WithSubjectID(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, SubjectIDKey, subjectID)
}
