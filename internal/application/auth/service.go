package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"carbonease-backend/internal/application/emails"
	"carbonease-backend/internal/domain"
	"carbonease-backend/internal/infrastructure/store"
	"carbonease-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	ResetTokenTTL   = 10 * time.Minute
	denylistPrefix  = "auth:denylist:"
	defaultHashCost = 10
)

// Service implements registration, login and account maintenance.
type Service struct {
	Store    store.UserStore
	Rdb      *redis.Client
	Emails   emails.Sender
	Tokens   *Tokens
	HashCost int
	Now      func() time.Time
}

func NewService(s store.UserStore, rdb *redis.Client, sender emails.Sender, tokens *Tokens) *Service {
	if sender == nil {
		sender = emails.Nop{}
	}
	return &Service{Store: s, Rdb: rdb, Emails: sender, Tokens: tokens, HashCost: defaultHashCost, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Session is a signed-in user plus the token that authenticates them.
type Session struct {
	User      *domain.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

type RegisterInput struct {
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	Email     string      `json:"email"`
	Password  string      `json:"password"`
	Role      domain.Role `json:"role"`
	Company   string      `json:"company"`
	Phone     string      `json:"phone"`
}

func (in RegisterInput) validate() error {
	v := domain.NewValidationError("Validation failed")
	if !validation.IsValidName(in.FirstName) {
		v.Add("firstName", "First name is required and cannot exceed 50 characters")
	}
	if !validation.IsValidName(in.LastName) {
		v.Add("lastName", "Last name is required and cannot exceed 50 characters")
	}
	if !validation.IsValidEmail(strings.TrimSpace(in.Email)) {
		v.Add("email", "Please provide a valid email")
	}
	if !validation.IsValidPassword(in.Password) {
		v.Add("password", "Password must be at least 8 characters and contain a letter and a number")
	}
	if in.Role != "" && in.Role != domain.RoleBuyer && in.Role != domain.RoleSeller {
		v.Add("role", "Role must be buyer or seller")
	}
	if in.Phone != "" && !validation.IsValidPhone(in.Phone) {
		v.Add("phone", "Please provide a valid phone number")
	}
	return v.OrNil()
}

// Register creates the account, issues a token and sends the welcome and
// verification emails. Email failures are logged, never returned.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}
	verifyToken, err := randomToken()
	if err != nil {
		return nil, err
	}
	role := in.Role
	if role == "" {
		role = domain.RoleBuyer
	}
	u := &domain.User{
		FirstName:              strings.TrimSpace(in.FirstName),
		LastName:               strings.TrimSpace(in.LastName),
		Email:                  in.Email,
		PasswordHash:           hash,
		Role:                   role,
		Company:                strings.TrimSpace(in.Company),
		Phone:                  strings.TrimSpace(in.Phone),
		EmailVerificationToken: verifyToken,
		IsActive:               true,
	}
	if err := s.Store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	log.Info().Str("user_id", u.ID.String()).Str("role", string(u.Role)).Msg("user registered")

	if err := s.Emails.SendWelcome(ctx, u.Email, u.FirstName); err != nil {
		log.Warn().Err(err).Str("user_id", u.ID.String()).Msg("welcome email failed")
	}
	if err := s.Emails.SendVerification(ctx, u.Email, u.FirstName, verifyToken); err != nil {
		log.Warn().Err(err).Str("user_id", u.ID.String()).Msg("verification email failed")
	}
	return s.session(u)
}

// Login checks credentials. Unknown email and wrong password share one message.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, domain.NewValidationError("Please provide email and password")
	}
	u, err := s.Store.FindUserByEmail(ctx, email)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return nil, &domain.UnauthenticatedError{Message: "Invalid credentials"}
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, &domain.UnauthenticatedError{Message: "Account has been deactivated"}
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, &domain.UnauthenticatedError{Message: "Invalid credentials"}
	}
	now := s.now()
	u.LastLogin = &now
	if err := s.Store.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	return s.session(u)
}

// Logout revokes the token until it would have expired anyway.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.Tokens.Parse(token)
	if err != nil {
		return nil
	}
	if s.Rdb == nil {
		log.Warn().Str("user_id", claims.UserID).Msg("logout without redis: token not revoked")
		return nil
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	return s.Rdb.Set(ctx, denylistPrefix+claims.ID, claims.UserID, ttl).Err()
}

// Authenticate resolves a bearer token to an active user.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	claims, err := s.Tokens.Parse(token)
	if err != nil {
		return nil, &domain.UnauthenticatedError{Message: "Not authorized, token failed"}
	}
	if s.Rdb != nil {
		revoked, err := s.Rdb.Exists(ctx, denylistPrefix+claims.ID).Result()
		if err != nil {
			return nil, err
		}
		if revoked > 0 {
			return nil, &domain.UnauthenticatedError{Message: "Token has been revoked"}
		}
	}
	u, err := s.Store.FindUserByID(ctx, uuid.MustParse(claims.UserID))
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return nil, &domain.UnauthenticatedError{Message: "No user found with this token"}
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, &domain.UnauthenticatedError{Message: "Account has been deactivated"}
	}
	return u, nil
}

func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.Store.FindUserByID(ctx, userID)
}

// ProfileInput carries optional updates; nil fields are left alone and the
// address is merged field by field.
type ProfileInput struct {
	FirstName    *string         `json:"firstName"`
	LastName     *string         `json:"lastName"`
	Company      *string         `json:"company"`
	Phone        *string         `json:"phone"`
	ProfileImage *string         `json:"profileImage"`
	Address      *domain.Address `json:"address"`
}

func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, in ProfileInput) (*domain.User, error) {
	u, err := s.Store.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	v := domain.NewValidationError("Validation failed")
	if in.FirstName != nil {
		if !validation.IsValidName(*in.FirstName) {
			v.Add("firstName", "First name is required and cannot exceed 50 characters")
		}
		u.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		if !validation.IsValidName(*in.LastName) {
			v.Add("lastName", "Last name is required and cannot exceed 50 characters")
		}
		u.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Phone != nil {
		if *in.Phone != "" && !validation.IsValidPhone(*in.Phone) {
			v.Add("phone", "Please provide a valid phone number")
		}
		u.Phone = strings.TrimSpace(*in.Phone)
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}
	if in.Company != nil {
		u.Company = strings.TrimSpace(*in.Company)
	}
	if in.ProfileImage != nil {
		u.ProfileImage = *in.ProfileImage
	}
	if a := in.Address; a != nil {
		mergeAddress(&u.Address, *a)
	}
	if err := s.Store.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func mergeAddress(dst *domain.Address, src domain.Address) {
	if src.Street != "" {
		dst.Street = src.Street
	}
	if src.City != "" {
		dst.City = src.City
	}
	if src.State != "" {
		dst.State = src.State
	}
	if src.Country != "" {
		dst.Country = src.Country
	}
	if src.ZipCode != "" {
		dst.ZipCode = src.ZipCode
	}
}

func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	u, err := s.Store.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return domain.NewValidationError("Current password is incorrect")
	}
	if !validation.IsValidPassword(next) {
		return domain.NewValidationError("Validation failed").
			Add("newPassword", "Password must be at least 8 characters and contain a letter and a number")
	}
	hash, err := s.hash(next)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return s.Store.SaveUser(ctx, u)
}

// ForgotPassword stores the sha256 of a fresh reset token and emails the raw token.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	u, err := s.Store.FindUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	raw, err := randomToken()
	if err != nil {
		return err
	}
	expires := s.now().Add(ResetTokenTTL)
	u.PasswordResetToken = hashToken(raw)
	u.PasswordResetExpires = &expires
	if err := s.Store.SaveUser(ctx, u); err != nil {
		return err
	}
	if err := s.Emails.SendPasswordReset(ctx, u.Email, u.FirstName, raw, ResetTokenTTL); err != nil {
		log.Error().Err(err).Str("user_id", u.ID.String()).Msg("password reset email failed")
	}
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, token, password string) (*Session, error) {
	if !validation.IsValidPassword(password) {
		return nil, domain.NewValidationError("Validation failed").
			Add("password", "Password must be at least 8 characters and contain a letter and a number")
	}
	u, err := s.Store.FindUserByResetToken(ctx, hashToken(token), s.now())
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return nil, domain.NewValidationError("Invalid or expired reset token")
		}
		return nil, err
	}
	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = hash
	u.PasswordResetToken = ""
	u.PasswordResetExpires = nil
	if err := s.Store.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	return s.session(u)
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return domain.NewValidationError("Invalid verification token")
	}
	u, err := s.Store.FindUserByVerificationToken(ctx, token)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return domain.NewValidationError("Invalid verification token")
		}
		return err
	}
	u.IsEmailVerified = true
	u.EmailVerificationToken = ""
	return s.Store.SaveUser(ctx, u)
}

func (s *Service) ResendVerification(ctx context.Context, userID uuid.UUID) error {
	u, err := s.Store.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.IsEmailVerified {
		return domain.NewValidationError("Email is already verified")
	}
	token, err := randomToken()
	if err != nil {
		return err
	}
	u.EmailVerificationToken = token
	if err := s.Store.SaveUser(ctx, u); err != nil {
		return err
	}
	if err := s.Emails.SendVerification(ctx, u.Email, u.FirstName, token); err != nil {
		log.Warn().Err(err).Str("user_id", u.ID.String()).Msg("verification email failed")
	}
	return nil
}

func (s *Service) session(u *domain.User) (*Session, error) {
	token, exp, err := s.Tokens.Issue(u.ID, string(u.Role))
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Token: token, ExpiresAt: exp}, nil
}

func (s *Service) hash(password string) (string, error) {
	cost := s.HashCost
	if cost == 0 {
		cost = defaultHashCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
