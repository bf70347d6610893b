package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths are infrastructure endpoints reachable without credentials.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

// publicPrefix is the anonymized patient-facing surface.
const publicPrefix = "/public/"

// AuthSkipper reports whether the request targets a public route.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Request().URL.Path)
}

func IsPublicPath(path string) bool {
	return publicPaths[path] || strings.HasPrefix(path, publicPrefix)
}
