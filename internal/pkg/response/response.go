package response

import (
	"errors"

	"carbonease-backend/internal/domain"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// SuccessBody is the standardized success JSON shape.
type SuccessBody struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// ErrorBody is the standardized error JSON shape.
type ErrorBody struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Errors  interface{} `json:"errors,omitempty"`
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
	HasNext    bool  `json:"hasNext"`
	HasPrev    bool  `json:"hasPrev"`
}

func NewPagination(page, limit int, total int64) *Pagination {
	pages := 0
	if limit > 0 {
		pages = int((total + int64(limit) - 1) / int64(limit))
	}
	return &Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: pages,
		HasNext:    page < pages,
		HasPrev:    page > 1,
	}
}

// Success sends a 200 OK response with the standard success format.
func Success(c *fiber.Ctx, message string, data interface{}) error {
	return c.Status(fiber.StatusOK).JSON(SuccessBody{Success: true, Message: message, Data: data})
}

// SuccessCreated sends a 201 Created response with the standard success format.
func SuccessCreated(c *fiber.Ctx, message string, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(SuccessBody{Success: true, Message: message, Data: data})
}

// Paginated sends a list page with its pagination block.
func Paginated(c *fiber.Ctx, message string, data interface{}, p *Pagination) error {
	return c.Status(fiber.StatusOK).JSON(SuccessBody{Success: true, Message: message, Data: data, Pagination: p})
}

// Error sends a response with the standard error format.
func Error(c *fiber.Ctx, message string, statusCode int, errs interface{}) error {
	return c.Status(statusCode).JSON(ErrorBody{Success: false, Message: message, Errors: errs})
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, message, fiber.StatusUnauthorized, nil)
}

// FromError maps a domain error to its status and envelope. Anything unrecognised
// is logged and reported as a bare 500.
func FromError(c *fiber.Ctx, err error) error {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		var fields interface{}
		if len(verr.Fields) > 0 {
			fields = verr.Fields
		}
		return Error(c, verr.Message, verr.StatusCode(), fields)
	}
	var sc domain.StatusCoder
	if errors.As(err, &sc) {
		status := sc.StatusCode()
		msg := err.Error()
		if status >= fiber.StatusInternalServerError {
			log.Error().Err(err).Str("trace_id", traceID(c)).Str("path", c.Path()).Msg("upstream failure")
			var gerr *domain.GatewayError
			if errors.As(err, &gerr) {
				msg = "Payment provider error"
			}
		}
		return Error(c, msg, status, nil)
	}
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		return Error(c, ferr.Message, ferr.Code, nil)
	}
	log.Error().Err(err).Str("trace_id", traceID(c)).Str("path", c.Path()).Msg("unhandled error")
	return Error(c, "Internal Server Error", fiber.StatusInternalServerError, nil)
}

func traceID(c *fiber.Ctx) string {
	if id, ok := c.Locals("trace_id").(string); ok {
		return id
	}
	return ""
}
