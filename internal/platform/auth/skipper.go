package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication. Load balancers probe /health without
// a token.
var publicPaths = map[string]bool{
	"/health": true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
