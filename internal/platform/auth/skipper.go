package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists route paths that bypass authentication: liveness and
// readiness probes.
var publicPaths = map[string]bool{
	"/health":     true,
	"/api/health": true,
	"/api/ready":  true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given path is a public probe endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
