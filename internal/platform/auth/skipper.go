// Package auth holds the shared-secret check that guards the API.
package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists infrastructure endpoints reachable without credentials.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

// Skipper returns true for requests whose route should skip authentication.
func Skipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

// IsPublicPath reports whether path is a public infrastructure endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
