package roomapi

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/signbridge/signaling-server/internal/identity"
)

const identityContextKey = "IDENTITY_CONTEXT"

func withIdentity(c echo.Context) *identity.Identity {
	ident, _ := c.Get(identityContextKey).(*identity.Identity)
	return ident
}

// identityWall rejects requests without a resolvable bearer credential and
// stores the identity on the request context for handlers behind it.
func identityWall(resolver identity.Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authorization := c.Request().Header.Get(echo.HeaderAuthorization)
			insecureToken := strings.TrimPrefix(authorization, "Bearer ")

			if authorization == "" || authorization == insecureToken {
				return c.JSON(http.StatusUnauthorized, errResponse{Message: "missing authorization header"})
			}

			ident, err := resolver.Resolve(c.Request().Context(), insecureToken)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errResponse{Message: "invalid credentials"})
			}

			c.Set(identityContextKey, ident)
			return next(c)
		}
	}
}

// softIdentity resolves a credential when present but lets anonymous
// requests through. Search visibility rules use it.
func softIdentity(resolver identity.Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authorization := c.Request().Header.Get(echo.HeaderAuthorization)
			insecureToken := strings.TrimPrefix(authorization, "Bearer ")

			if insecureToken != "" && insecureToken != authorization {
				if ident, err := resolver.Resolve(c.Request().Context(), insecureToken); err == nil {
					c.Set(identityContextKey, ident)
				}
			}
			return next(c)
		}
	}
}
