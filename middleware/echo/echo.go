// Package echo provides Echo middleware that meters response traffic
// against a subject's quota.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/quotaledger/quotaledger/pkg/quotaledger"
)

// SubjectIDExtractor extracts the subject ID from an Echo context.
// Return empty string if the subject is not authenticated.
type SubjectIDExtractor func(c echo.Context) string

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
	OnExhausted func(c echo.Context, remaining int64) error

	// OnUnauthorized is called when the subject is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that gates requests on remaining
// quota and charges the response size afterwards.
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("quotaledger/echo: Config.Manager is required")
	}
	if cfg.GetSubjectID == nil {
		panic("quotaledger/echo: Config.GetSubjectID is required")
	}
	if cfg.ExhaustedStatusCode == 0 {
		cfg.ExhaustedStatusCode = http.StatusTooManyRequests
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			subjectID := cfg.GetSubjectID(c)
			if subjectID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			ctx := c.Request().Context()
			remaining, err := cfg.Manager.Remaining(ctx, subjectID)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			}
			if remaining <= 0 {
				if cfg.OnExhausted != nil {
					return cfg.OnExhausted(c, remaining)
				}
				return c.JSON(cfg.ExhaustedStatusCode, map[string]interface{}{
					"error":     "Quota exhausted",
					"remaining": 0,
				})
			}

			err = next(c)

			if size := c.Response().Size; size > 0 {
				// Best effort: the response is already on the wire.
				_, _ = cfg.Manager.Charge(ctx, subjectID, size)
			}
			return err
		}
	}
}

// Convenience extractors for subject ID.

// FromContext returns a SubjectIDExtractor that gets the subject ID from
// Echo context values, for integrating with auth middleware that calls
// c.Set("SubjectID", "...").
func FromContext(key string) SubjectIDExtractor {
	return func(c echo.Context) string {
		if val := c.Get(key); val != nil {
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
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns a SubjectIDExtractor that gets the subject ID from a
// route parameter.
func FromParam(paramName string) SubjectIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}

// FromQuery returns a SubjectIDExtractor that gets the subject ID from a
// query parameter.
func FromQuery(queryName string) SubjectIDExtractor {
	return func(c echo.Context) string {
		return c.QueryParam(queryName)
	}
}
