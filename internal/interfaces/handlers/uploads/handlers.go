package uploads

import (
	"errors"

	uploadsvc "carbonease-backend/internal/application/uploads"
	"carbonease-backend/internal/domain"
	"carbonease-backend/internal/middleware"
	"carbonease-backend/internal/pkg/params"
	"carbonease-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Handlers bundles upload handlers with the service.
type Handlers struct {
	Service *uploadsvc.Service
}

type uploadRequest struct {
	FileName string `json:"fileName"`
}

func (h *Handlers) sign(c *fiber.Ctx, kind uploadsvc.Kind) error {
	var req uploadRequest
	if err := params.Body(c, &req); err != nil {
		return response.FromError(c, err)
	}
	res, err := h.Service.SignUpload(c.UserContext(), middleware.GetUser(c), kind, req.FileName)
	if err != nil {
		var sc domain.StatusCoder
		if errors.As(err, &sc) {
			return response.FromError(c, err)
		}
		log.Error().Err(err).Str("kind", string(kind)).Msg("upload: failed to generate signed URL")
		return response.Error(c, "Failed to generate upload URL", fiber.StatusInternalServerError, nil)
	}
	return response.Success(c, "Upload URL generated", res)
}

// CreditImage POST /api/uploads/credit-image
func (h *Handlers) CreditImage(c *fiber.Ctx) error {
	return h.sign(c, uploadsvc.KindImage)
}

// CreditDocument POST /api/uploads/credit-document
func (h *Handlers) CreditDocument(c *fiber.Ctx) error {
	return h.sign(c, uploadsvc.KindDocument)
}
