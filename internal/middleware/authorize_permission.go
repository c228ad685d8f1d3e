package middleware

import (
	"fmt"

	"carbonease-backend/internal/domain"
	"carbonease-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// Authorize returns a handler that only lets the listed roles through.
// Must run after Protect.
func Authorize(roles ...domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetUser(c)
		if user == nil {
			return response.Unauthorized(c, "Not authorized to access this route")
		}
		for _, r := range roles {
			if user.Role == r {
				return c.Next()
			}
		}
		return response.Error(c, fmt.Sprintf("User role %s is not authorized to access this route", user.Role), fiber.StatusForbidden, nil)
	}
}
