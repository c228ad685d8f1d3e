package transactions

import (
	txsvc "carbonease-backend/internal/application/transactions"
	"carbonease-backend/internal/domain"
	"carbonease-backend/internal/infrastructure/store"
	"carbonease-backend/internal/middleware"
	"carbonease-backend/internal/pkg/params"
	"carbonease-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Handlers struct {
	Service *txsvc.Service
}

// Create POST /api/transactions (buyer)
func (h *Handlers) Create(c *fiber.Ctx) error {
	var in txsvc.CreateInput
	if err := params.Body(c, &in); err != nil {
		return response.FromError(c, err)
	}
	t, err := h.Service.Create(c.UserContext(), middleware.GetUser(c), in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Transaction created successfully", t)
}

// List GET /api/transactions?status=&paymentStatus=&page=&limit=
func (h *Handlers) List(c *fiber.Ctx) error {
	page, limit := params.Page(c)
	q := txsvc.ListQuery{
		Page:          store.Page{Page: page, Limit: limit},
		Status:        domain.TransactionStatus(c.Query("status")),
		PaymentStatus: domain.PaymentStatus(c.Query("paymentStatus")),
	}
	list, total, err := h.Service.List(c.UserContext(), middleware.GetUser(c), q)
	if err != nil {
		return response.FromError(c, err)
	}
	p := q.Page.Normalized()
	return response.Paginated(c, "Transactions retrieved successfully", list, response.NewPagination(p.Page, p.Limit, total))
}

// Get GET /api/transactions/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, err := params.UUID(c, "id")
	if err != nil {
		return response.FromError(c, err)
	}
	t, err := h.Service.Get(c.UserContext(), middleware.GetUser(c), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Transaction retrieved successfully", t)
}

type statusRequest struct {
	Status domain.TransactionStatus `json:"status"`
}

// UpdateStatus PUT /api/transactions/:id/status
func (h *Handlers) UpdateStatus(c *fiber.Ctx) error {
	id, err := params.UUID(c, "id")
	if err != nil {
		return response.FromError(c, err)
	}
	var req statusRequest
	if err := params.Body(c, &req); err != nil {
		return response.FromError(c, err)
	}
	if !req.Status.Valid() {
		return response.Error(c, "Invalid status", fiber.StatusBadRequest, []domain.FieldError{{Field: "status", Message: "must be one of pending, processing, completed, cancelled, refunded"}})
	}
	t, err := h.Service.UpdateStatus(c.UserContext(), middleware.GetUser(c), id, req.Status)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Transaction status updated successfully", t)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel PUT /api/transactions/:id/cancel
func (h *Handlers) Cancel(c *fiber.Ctx) error {
	id, err := params.UUID(c, "id")
	if err != nil {
		return response.FromError(c, err)
	}
	var req cancelRequest
	if err := params.Body(c, &req); err != nil {
		return response.FromError(c, err)
	}
	t, err := h.Service.Cancel(c.UserContext(), middleware.GetUser(c), id, req.Reason)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Transaction cancelled successfully", t)
}

// Review POST /api/transactions/:id/review
func (h *Handlers) Review(c *fiber.Ctx) error {
	id, err := params.UUID(c, "id")
	if err != nil {
		return response.FromError(c, err)
	}
	var in txsvc.ReviewInput
	if err := params.Body(c, &in); err != nil {
		return response.FromError(c, err)
	}
	t, err := h.Service.Review(c.UserContext(), middleware.GetUser(c), id, in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Review added successfully", t)
}

// Stats GET /api/transactions/stats
func (h *Handlers) Stats(c *fiber.Ctx) error {
	stats, err := h.Service.Stats(c.UserContext(), middleware.GetUser(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Transaction statistics retrieved successfully", stats)
}

// DownloadCertificate GET /api/transactions/:id/certificate/:certId
func (h *Handlers) DownloadCertificate(c *fiber.Ctx) error {
	id, certID, err := certParams(c)
	if err != nil {
		return response.FromError(c, err)
	}
	link, err := h.Service.DownloadCertificate(c.UserContext(), middleware.GetUser(c), id, certID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Certificate download link generated", link)
}

// CertificatePDF GET /api/transactions/:id/certificate/:certId/pdf
func (h *Handlers) CertificatePDF(c *fiber.Ctx) error {
	id, certID, err := certParams(c)
	if err != nil {
		return response.FromError(c, err)
	}
	name, pdf, err := h.Service.CertificatePDF(c.UserContext(), middleware.GetUser(c), id, certID)
	if err != nil {
		return response.FromError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Send(pdf)
}

func certParams(c *fiber.Ctx) (uuid.UUID, uuid.UUID, error) {
	id, err := params.UUID(c, "id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	certID, err := params.UUID(c, "certId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return id, certID, nil
}
