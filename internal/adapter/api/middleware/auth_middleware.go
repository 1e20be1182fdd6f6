package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"jobchat/internal/usecase"
	"jobchat/pkg/errors"
	"jobchat/pkg/response"
)

type AuthMiddleware struct {
	identity usecase.IdentityProvider
}

func NewAuthMiddleware(identity usecase.IdentityProvider) *AuthMiddleware {
	return &AuthMiddleware{
		identity: identity,
	}
}

func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return response.Error(c, errors.Unauthenticated("Authorization header is required"))
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return response.Error(c, errors.Unauthenticated("Invalid authorization format"))
		}

		return m.resolve(c, next, parts[1])
	}
}

// AuthenticateWebSocket also accepts the token as a "token" query
// parameter, since browsers cannot set headers on the upgrade request.
func (m *AuthMiddleware) AuthenticateWebSocket(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if token := c.QueryParam("token"); token != "" {
			return m.resolve(c, next, token)
		}
		return m.Authenticate(next)(c)
	}
}

func (m *AuthMiddleware) resolve(c echo.Context, next echo.HandlerFunc, token string) error {
	uid, err := m.identity.VerifyToken(c.Request().Context(), token)
	if err != nil {
		return response.Error(c, err)
	}

	c.Set("uid", uid)
	return next(c)
}
