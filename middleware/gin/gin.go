// Package gin provides Gin middleware that meters response traffic against
// a subject's quota.
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/quotaledger/quotaledger/pkg/quotaledger"
)

// SubjectIDExtractor extracts the subject ID from a Gin context.
// Return empty string if the subject is not authenticated.
type SubjectIDExtractor func(c *gongin.Context) string

// Config holds middleware configuration.
type Config struct {
	// Manager is the quota manager instance (required).
	Manager *quotaledger.Manager

	// GetSubjectID extracts the subject ID from the context (required).
	GetSubjectID SubjectIDExtractor

	// ExhaustedStatusCode is the HTTP status code returned when the subject
	// has no remaining capacity. Default: 429 (Too Many Requests).
	ExhaustedStatusCode int

	// OnExhausted is called when the subject has no remaining capacity.
	// If nil, returns ExhaustedStatusCode with a JSON body.
	OnExhausted func(c *gongin.Context, remaining int64)

	// OnUnauthorized is called when the subject is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that gates requests on remaining
// quota and charges the response size afterwards.
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("quotaledger/gin: Config.Manager is required")
	}
	if cfg.GetSubjectID == nil {
		panic("quotaledger/gin: Config.GetSubjectID is required")
	}
	if cfg.ExhaustedStatusCode == 0 {
		cfg.ExhaustedStatusCode = http.StatusTooManyRequests
	}

	return func(c *gongin.Context) {
		subjectID := cfg.GetSubjectID(c)
		if subjectID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		remaining, err := cfg.Manager.Remaining(ctx, subjectID)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
			}
			c.Abort()
			return
		}
		if remaining <= 0 {
			if cfg.OnExhausted != nil {
				cfg.OnExhausted(c, remaining)
			} else {
				c.JSON(cfg.ExhaustedStatusCode, gongin.H{
					"error":     "Quota exhausted",
					"remaining": 0,
				})
			}
			c.Abort()
			return
		}

		c.Next()

		if size := c.Writer.Size(); size > 0 {
			// Best effort: the response is already on the wire.
			_, _ = cfg.Manager.Charge(ctx, subjectID, int64(size))
		}
	}
}

// Convenience extractors for subject ID.

// FromContext returns a SubjectIDExtractor that gets the subject ID from
// Gin context values, for integrating with auth middleware that calls
// c.Set("SubjectID", "...").
func FromContext(key string) SubjectIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a SubjectIDExtractor that gets the subject ID from a
// header.
func FromHeader(headerName string) SubjectIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a SubjectIDExtractor that gets the subject ID from a
// route parameter.
func FromParam(paramName string) SubjectIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}

// FromQuery returns a SubjectIDExtractor that gets the subject ID from a
// query parameter.
func FromQuery(queryName string) SubjectIDExtractor {
	return func(c *gongin.Context) string {
		return c.Query(queryName)
	}
}
