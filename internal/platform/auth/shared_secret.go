package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const bearerPrefix = "Bearer "

// SharedSecretConfig configures SharedSecret. A nil Skipper uses Skipper.
type SharedSecretConfig struct {
	Secret  string
	Skipper func(c echo.Context) bool
	Logger  zerolog.Logger
}

// SharedSecret rejects requests whose "Authorization: Bearer <token>" does
// not equal the configured secret byte for byte. Failures get 403.
func SharedSecret(cfg SharedSecretConfig) echo.MiddlewareFunc {
	skipper := cfg.Skipper
	if skipper == nil {
		skipper = Skipper
	}
	secret := []byte(cfg.Secret)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}

			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok || len(secret) == 0 || subtle.ConstantTimeCompare([]byte(token), secret) != 1 {
				reason := "invalid token"
				if !ok {
					reason = "missing bearer token"
				}
				cfg.Logger.Warn().
					Str("path", c.Request().URL.Path).
					Str("remote_ip", c.RealIP()).
					Str("reason", reason).
					Msg("authorization failed")
				return echo.NewHTTPError(http.StatusForbidden, "forbidden")
			}
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := header[len(bearerPrefix):]
	if token == "" {
		return "", false
	}
	return token, true
}
