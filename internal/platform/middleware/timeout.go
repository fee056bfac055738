package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout bounds the whole request with timeout. When the deadline
// passes first the request context is cancelled and a 504 is written.
// Requests to paths in skip carry no deadline.
func RequestTimeout(timeout time.Duration, skip ...string) echo.MiddlewareFunc {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 || skipped[c.Request().URL.Path] {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					return writeError(c, http.StatusGatewayTimeout, "request exceeded the allowed time limit")
				}
				return ctx.Err()
			}
		}
	}
}

// writeError writes echo's {"message": ...} error body unless the response
// has already been committed.
func writeError(c echo.Context, status int, msg string) error {
	if c.Response().Committed {
		return nil
	}
	return c.JSON(status, map[string]string{"message": msg})
}
