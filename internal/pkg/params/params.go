package params

import (
	"strconv"

	"carbonease-backend/internal/domain"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// UUID parses a route parameter, failing with a 400 on malformed ids.
func UUID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, domain.NewValidationError("Invalid ID format", domain.FieldError{Field: name, Message: "must be a valid id"})
	}
	return id, nil
}

// Page reads the page and limit query values; zero means "use the default".
func Page(c *fiber.Ctx) (page, limit int) {
	return c.QueryInt("page", 0), c.QueryInt("limit", 0)
}

// Float reads an optional numeric query value.
func Float(c *fiber.Ctx, name string) (float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, domain.NewValidationError("Invalid "+name, domain.FieldError{Field: name, Message: "must be a number"})
	}
	return v, nil
}

// Body decodes the JSON request body.
func Body(c *fiber.Ctx, out interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return domain.NewValidationError("Invalid request body")
	}
	return nil
}
