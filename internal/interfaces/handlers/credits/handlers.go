package credits

import (
	"encoding/json"

	creditsvc "carbonease-backend/internal/application/credits"
	"carbonease-backend/internal/domain"
	"carbonease-backend/internal/infrastructure/store"
	"carbonease-backend/internal/middleware"
	"carbonease-backend/internal/pkg/params"
	"carbonease-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Service *creditsvc.Service
}

// Browse GET /api/credits (public marketplace)
func (h *Handlers) Browse(c *fiber.Ctx) error {
	page, limit := params.Page(c)
	minPrice, err := params.Float(c, "minPrice")
	if err != nil {
		return response.FromError(c, err)
	}
	maxPrice, err := params.Float(c, "maxPrice")
	if err != nil {
		return response.FromError(c, err)
	}
	q := creditsvc.BrowseQuery{
		Page:       store.Page{Page: page, Limit: limit},
		EnergyType: c.Query("energyType"),
		Country:    c.Query("country"),
		Standard:   c.Query("certificationStandard"),
		MinPrice:   minPrice,
		MaxPrice:   maxPrice,
		Search:     c.Query("search"),
		SortBy:     c.Query("sortBy", "createdAt"),
		SortDesc:   c.Query("sortOrder", "desc") != "asc",
	}
	list, total, err := h.Service.Browse(c.UserContext(), q)
	if err != nil {
		return response.FromError(c, err)
	}
	p := q.Page.Normalized()
	return response.Paginated(c, "Carbon credits retrieved successfully", list, response.NewPagination(p.Page, p.Limit, total))
}

// Get GET /api/credits/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, err := params.UUID(c, "id")
	if err != nil {
		return response.FromError(c, err)
	}
	credit, err := h.Service.Get(c.UserContext(), middleware.GetUser(c), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Carbon credit retrieved successfully", credit)
}

// Create POST /api/credits (seller)
func (h *Handlers) Create(c *fiber.Ctx) error {
	var in creditsvc.CreditInput
	if err := params.Body(c, &in); err != nil {
		return response.FromError(c, err)
	}
	credit, err := h.Service.Create(c.UserContext(), middleware.GetUser(c), in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Carbon credit created successfully", credit)
}

// Update PUT /api/credits/:id (owner)
func (h *Handlers) Update(c *fiber.Ctx) error {
	id, err := params.UUID(c, "id")
	if err != nil {
		return response.FromError(c, err)
	}
	body := c.Body()
	if !json.Valid(body) {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	credit, err := h.Service.Update(c.UserContext(), middleware.GetUser(c), id, json.RawMessage(body))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Carbon credit updated successfully", credit)
}

// Delete DELETE /api/credits/:id (owner)
func (h *Handlers) Delete(c *fiber.Ctx) error {
	id, err := params.UUID(c, "id")
	if err != nil {
		return response.FromError(c, err)
	}
	if err := h.Service.Delete(c.UserContext(), middleware.GetUser(c), id); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Carbon credit deleted successfully", nil)
}

// MyCredits GET /api/credits/seller/my-credits
func (h *Handlers) MyCredits(c *fiber.Ctx) error {
	page, limit := params.Page(c)
	pg := store.Page{Page: page, Limit: limit}
	list, total, err := h.Service.MyCredits(c.UserContext(), middleware.GetUser(c), domain.ListingStatus(c.Query("status")), pg)
	if err != nil {
		return response.FromError(c, err)
	}
	p := pg.Normalized()
	return response.Paginated(c, "Your carbon credits retrieved successfully", list, response.NewPagination(p.Page, p.Limit, total))
}

// SellerStats GET /api/credits/seller/stats
func (h *Handlers) SellerStats(c *fiber.Ctx) error {
	stats, err := h.Service.SellerStats(c.UserContext(), middleware.GetUser(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Seller statistics retrieved successfully", stats)
}

type verifyRequest struct {
	IsVerified *bool `json:"isVerified"`
}

// Verify PUT /api/credits/:id/verify (admin). An empty body verifies.
func (h *Handlers) Verify(c *fiber.Ctx) error {
	id, err := params.UUID(c, "id")
	if err != nil {
		return response.FromError(c, err)
	}
	var req verifyRequest
	if err := params.Body(c, &req); err != nil {
		return response.FromError(c, err)
	}
	verified := true
	if req.IsVerified != nil {
		verified = *req.IsVerified
	}
	credit, err := h.Service.Verify(c.UserContext(), middleware.GetUser(c), id, verified)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Carbon credit verified successfully", credit)
}

func (h *Handlers) EnergyTypes(c *fiber.Ctx) error {
	out, err := h.Service.EnergyTypes(c.UserContext())
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Energy types retrieved successfully", out)
}

func (h *Handlers) CertificationStandards(c *fiber.Ctx) error {
	out, err := h.Service.CertificationStandards(c.UserContext())
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Certification standards retrieved successfully", out)
}

func (h *Handlers) Countries(c *fiber.Ctx) error {
	out, err := h.Service.Countries(c.UserContext())
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Countries retrieved successfully", out)
}
