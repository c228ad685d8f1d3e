package payments

import (
	paysvc "carbonease-backend/internal/application/payments"
	"carbonease-backend/internal/domain"
	"carbonease-backend/internal/middleware"
	"carbonease-backend/internal/pkg/params"
	"carbonease-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Handlers struct {
	Service *paysvc.Service
}

// Webhook POST /api/payments/webhook. Registered before any body-consuming
// middleware so the signature is checked against the raw payload.
func (h *Handlers) Webhook(c *fiber.Ctx) error {
	raw := c.BodyRaw()
	if len(raw) == 0 {
		log.Warn().Msg("payment webhook received empty body")
		return c.Status(fiber.StatusBadRequest).SendString("Webhook Error: empty body")
	}
	result, err := h.Service.HandleWebhookEvent(c.UserContext(), raw, c.Get("Stripe-Signature"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("Webhook Error: " + err.Error())
	}
	log.Debug().Str("event_id", result.EventID).Str("type", result.Type).Str("outcome", result.Outcome).Msg("webhook handled")
	return c.JSON(fiber.Map{"received": true})
}

type checkoutRequest struct {
	TransactionID uuid.UUID `json:"transactionId"`
}

// CreateCheckoutSession POST /api/payments/create-checkout-session (buyer)
func (h *Handlers) CreateCheckoutSession(c *fiber.Ctx) error {
	var req checkoutRequest
	if err := params.Body(c, &req); err != nil {
		return response.FromError(c, err)
	}
	if req.TransactionID == uuid.Nil {
		return response.FromError(c, domain.NewValidationError("Transaction ID is required", domain.FieldError{Field: "transactionId", Message: "is required"}))
	}
	out, err := h.Service.CreateCheckoutSession(c.UserContext(), middleware.GetUser(c), req.TransactionID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Checkout session created successfully", fiber.Map{"sessionId": out.SessionID, "url": out.URL})
}

// Status GET /api/payments/status/:transactionId
func (h *Handlers) Status(c *fiber.Ctx) error {
	id, err := params.UUID(c, "transactionId")
	if err != nil {
		return response.FromError(c, err)
	}
	out, err := h.Service.GetPaymentStatus(c.UserContext(), middleware.GetUser(c), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Payment status retrieved successfully", out)
}

type refundRequest struct {
	TransactionID uuid.UUID `json:"transactionId"`
	Amount        *float64  `json:"amount"`
	Reason        string    `json:"reason"`
}

// Refund POST /api/payments/refund (seller, admin)
func (h *Handlers) Refund(c *fiber.Ctx) error {
	var req refundRequest
	if err := params.Body(c, &req); err != nil {
		return response.FromError(c, err)
	}
	if req.TransactionID == uuid.Nil {
		return response.FromError(c, domain.NewValidationError("Transaction ID is required", domain.FieldError{Field: "transactionId", Message: "is required"}))
	}
	t, err := h.Service.ProcessRefund(c.UserContext(), middleware.GetUser(c), req.TransactionID, req.Amount, req.Reason)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Refund processed successfully", fiber.Map{
		"refundId": t.Payment.RefundID,
		"amount":   t.Payment.RefundAmount,
		"status":   t.Payment.Status,
	})
}
