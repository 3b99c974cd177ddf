package api

import (
	"fmt"
	"net/http"

	"github.com/quotaledger/quotaledger/pkg/quotaledger"
)

// Config holds configuration for the usage API handler.
type Config struct {
	// Manager is the quota manager instance (required).
	Manager *quotaledger.Manager

	// GetSubjectID extracts the subject ID from an HTTP request (required).
	// Same pattern as middleware/http.
	GetSubjectID func(*http.Request) string

	// GetActor extracts the operator identity for administrative endpoints.
	// If nil, administrative actions are attributed to "api".
	GetActor func(*http.Request) string

	// OnError handles errors (auth, internal, etc.).
	// If nil, uses default error handling.
	OnError func(http.ResponseWriter, *http.Request, error)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	if c.GetSubjectID == nil {
		return fmt.Errorf("getSubjectID is required")
	}
	return nil
}

// NewHandler creates a new usage API handler with the given configuration.
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common subject ID extraction patterns.

// FromHeader returns a GetSubjectID function that extracts the subject ID
// from a header.
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetSubjectID function that extracts the subject ID
// from the request context. Uses the same context key pattern as
// middleware/http.
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if subjectID, ok := r.Context().Value(key).(string); ok {
			return subjectID
		}
		return ""
	}
}
