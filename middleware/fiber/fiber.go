// Package fiber provides Fiber middleware that meters response traffic
// against a subject's quota.
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/quotaledger/quotaledger/pkg/quotaledger"
)

// SubjectIDExtractor extracts the subject ID from a Fiber context.
// Return empty string if the subject is not authenticated.
type SubjectIDExtractor func(c *fiber.Ctx) string

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
	OnExhausted func(c *fiber.Ctx, remaining int64) error

	// OnUnauthorized is called when the subject is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that gates requests on remaining
// quota and charges the response size afterwards.
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("quotaledger/fiber: Config.Manager is required")
	}
	if cfg.GetSubjectID == nil {
		panic("quotaledger/fiber: Config.GetSubjectID is required")
	}
	if cfg.ExhaustedStatusCode == 0 {
		cfg.ExhaustedStatusCode = fiber.StatusTooManyRequests
	}

	return func(c *fiber.Ctx) error {
		subjectID := cfg.GetSubjectID(c)
		if subjectID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		ctx := c.UserContext()
		remaining, err := cfg.Manager.Remaining(ctx, subjectID)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		}
		if remaining <= 0 {
			if cfg.OnExhausted != nil {
				return cfg.OnExhausted(c, remaining)
			}
			return c.Status(cfg.ExhaustedStatusCode).JSON(fiber.Map{
				"error":     "Quota exhausted",
				"remaining": 0,
			})
		}

		err = c.Next()

		if size := len(c.Response().Body()); size > 0 {
			// Best effort: the response is already on the wire.
			_, _ = cfg.Manager.Charge(ctx, subjectID, int64(size))
		}
		return err
	}
}

// Convenience extractors for subject ID.

// FromLocals returns a SubjectIDExtractor that gets the subject ID from
// Fiber locals, for integrating with auth middleware that calls
// c.Locals("SubjectID", "...").
func FromLocals(key string) SubjectIDExtractor {
	return func(c *fiber.Ctx) string {
		if val := c.Locals(key); val != nil {
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
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a SubjectIDExtractor that gets the subject ID from a
// route parameter.
func FromParam(paramName string) SubjectIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}

// FromQuery returns a SubjectIDExtractor that gets the subject ID from a
// query parameter.
func FromQuery(queryName string) SubjectIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Query(queryName)
	}
}
