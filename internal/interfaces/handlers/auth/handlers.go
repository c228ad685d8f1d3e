package auth

import (
	"time"

	authsvc "carbonease-backend/internal/application/auth"
	"carbonease-backend/internal/middleware"
	"carbonease-backend/internal/pkg/params"
	"carbonease-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Handlers holds dependencies for auth endpoints.
type Handlers struct {
	Service      *authsvc.Service
	IsProduction bool
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	Password        string `json:"password"`
	Email           string `json:"email"`
}

// setTokenCookie mirrors the bearer token into an httpOnly cookie.
func (h *Handlers) setTokenCookie(c *fiber.Ctx, token string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.TokenCookie,
		Value:    token,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   h.IsProduction,
		SameSite: fiber.CookieSameSiteStrictMode,
		Path:     "/",
	})
}

func (h *Handlers) sessionResponse(c *fiber.Ctx, status int, message string, s *authsvc.Session) error {
	h.setTokenCookie(c, s.Token, s.ExpiresAt)
	return c.Status(status).JSON(response.SuccessBody{
		Success: true,
		Message: message,
		Data:    fiber.Map{"user": s.User, "token": s.Token},
	})
}

// Register POST /api/auth/register
func (h *Handlers) Register(c *fiber.Ctx) error {
	var in authsvc.RegisterInput
	if err := params.Body(c, &in); err != nil {
		return response.FromError(c, err)
	}
	s, err := h.Service.Register(c.UserContext(), in)
	if err != nil {
		return response.FromError(c, err)
	}
	return h.sessionResponse(c, fiber.StatusCreated, "User registered successfully. Please verify your email.", s)
}

// Login POST /api/auth/login
func (h *Handlers) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := params.Body(c, &req); err != nil {
		return response.FromError(c, err)
	}
	if req.Email == "" || req.Password == "" {
		return response.Error(c, "Email and password are required", fiber.StatusBadRequest, nil)
	}
	s, err := h.Service.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return response.FromError(c, err)
	}
	return h.sessionResponse(c, fiber.StatusOK, "Login successful", s)
}

// Logout POST /api/auth/logout revokes the token and clears the cookie.
func (h *Handlers) Logout(c *fiber.Ctx) error {
	if err := h.Service.Logout(c.UserContext(), middleware.GetToken(c)); err != nil {
		log.Warn().Err(err).Str("path", c.Path()).Msg("token revocation failed")
	}
	h.setTokenCookie(c, "", time.Unix(0, 0))
	return response.Success(c, "Logout successful", nil)
}

// Me GET /api/auth/me
func (h *Handlers) Me(c *fiber.Ctx) error {
	u, err := h.Service.Me(c.UserContext(), middleware.GetUser(c).ID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "User retrieved successfully", fiber.Map{"user": u})
}

// UpdateProfile PUT /api/auth/profile
func (h *Handlers) UpdateProfile(c *fiber.Ctx) error {
	var in authsvc.ProfileInput
	if err := params.Body(c, &in); err != nil {
		return response.FromError(c, err)
	}
	u, err := h.Service.UpdateProfile(c.UserContext(), middleware.GetUser(c).ID, in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Profile updated successfully", fiber.Map{"user": u})
}

// ChangePassword PUT /api/auth/change-password
func (h *Handlers) ChangePassword(c *fiber.Ctx) error {
	var req passwordRequest
	if err := params.Body(c, &req); err != nil {
		return response.FromError(c, err)
	}
	if err := h.Service.ChangePassword(c.UserContext(), middleware.GetUser(c).ID, req.CurrentPassword, req.NewPassword); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Password changed successfully", nil)
}

// ForgotPassword POST /api/auth/forgot-password
func (h *Handlers) ForgotPassword(c *fiber.Ctx) error {
	var req passwordRequest
	if err := params.Body(c, &req); err != nil {
		return response.FromError(c, err)
	}
	if req.Email == "" {
		return response.Error(c, "Email is required", fiber.StatusBadRequest, nil)
	}
	if err := h.Service.ForgotPassword(c.UserContext(), req.Email); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Password reset email sent", nil)
}

// ResetPassword PUT /api/auth/reset-password/:token
func (h *Handlers) ResetPassword(c *fiber.Ctx) error {
	var req passwordRequest
	if err := params.Body(c, &req); err != nil {
		return response.FromError(c, err)
	}
	s, err := h.Service.ResetPassword(c.UserContext(), c.Params("token"), req.Password)
	if err != nil {
		return response.FromError(c, err)
	}
	return h.sessionResponse(c, fiber.StatusOK, "Password reset successful", s)
}

// VerifyEmail GET /api/auth/verify-email/:token
func (h *Handlers) VerifyEmail(c *fiber.Ctx) error {
	if err := h.Service.VerifyEmail(c.UserContext(), c.Params("token")); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Email verified successfully", nil)
}

// ResendVerification POST /api/auth/resend-verification
func (h *Handlers) ResendVerification(c *fiber.Ctx) error {
	if err := h.Service.ResendVerification(c.UserContext(), middleware.GetUser(c).ID); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Verification email sent", nil)
}
