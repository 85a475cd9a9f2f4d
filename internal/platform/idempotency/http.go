package idempotency

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderKeyAlt   = "X-Idempotency-Key"
	HeaderReplayed = "X-Idempotency-Replayed"

	maxKeyLength = 255
)

// KeyFromRequest reads the key from the standard or legacy header. An empty
// string means the request is not idempotent.
func KeyFromRequest(c echo.Context) (string, error) {
	key := c.Request().Header.Get(HeaderKey)
	if key == "" {
		key = c.Request().Header.Get(HeaderKeyAlt)
	}
	if len(key) > maxKeyLength {
		return "", echo.NewHTTPError(http.StatusBadRequest, "idempotency key must be at most 255 characters")
	}
	return key, nil
}
