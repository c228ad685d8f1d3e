package middleware

import (
	"context"
	"strings"

	"carbonease-backend/internal/domain"
	"carbonease-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

const (
	userLocal    = "user"
	tokenLocal   = "token"
	TokenCookie  = "token"
	bearerPrefix = "Bearer "
)

// Authenticator resolves a bearer token to an active user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// Protect requires a valid JWT from the Authorization header or the token cookie.
func Protect(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := ExtractToken(c)
		if token == "" {
			return response.Unauthorized(c, "Not authorized to access this route")
		}
		user, err := auth.Authenticate(c.UserContext(), token)
		if err != nil {
			return response.FromError(c, err)
		}
		c.Locals(userLocal, user)
		c.Locals(tokenLocal, token)
		return c.Next()
	}
}

// OptionalAuth attaches the user when a valid token is present and never rejects.
func OptionalAuth(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token := ExtractToken(c); token != "" {
			if user, err := auth.Authenticate(c.UserContext(), token); err == nil {
				c.Locals(userLocal, user)
				c.Locals(tokenLocal, token)
			}
		}
		return c.Next()
	}
}

// ExtractToken reads the bearer token, falling back to the cookie.
func ExtractToken(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
	}
	return c.Cookies(TokenCookie)
}

// GetUser returns the authenticated user (nil if not logged in).
func GetUser(c *fiber.Ctx) *domain.User {
	u, _ := c.Locals(userLocal).(*domain.User)
	return u
}

// GetToken returns the raw token the request authenticated with.
func GetToken(c *fiber.Ctx) string {
	t, _ := c.Locals(tokenLocal).(string)
	return t
}
