package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = echo.HeaderXRequestID

// requestIDKey is the echo context key the ID is stored under.
const requestIDKey = "request_id"

// maxRequestIDLen bounds client-supplied IDs.
const maxRequestIDLen = 128

// RequestID reuses the caller's X-Request-ID when present and generates a
// UUID otherwise. The ID is stored in the context and echoed in the response.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if rid == "" || len(rid) > maxRequestIDLen {
				rid = uuid.New().String()
			}
			c.Set(requestIDKey, rid)
			c.Response().Header().Set(RequestIDHeader, rid)
			return next(c)
		}
	}
}

// GetRequestID returns the request ID set by RequestID, or "".
func GetRequestID(c echo.Context) string {
	rid, _ := c.Get(requestIDKey).(string)
	return rid
}
