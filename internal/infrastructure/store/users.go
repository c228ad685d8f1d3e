package store

import (
	"context"
	"strings"
	"time"

	"carbonease-backend/internal/domain"

	"github.com/google/uuid"
)

func (s *GormStore) CreateUser(ctx context.Context, u *domain.User) error {
	var count int64
	email := strings.ToLower(strings.TrimSpace(u.Email))
	if err := s.db(ctx).Model(&domain.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return &domain.ConflictError{Message: "User already exists with this email"}
	}
	return s.db(ctx).Create(u).Error
}

func (s *GormStore) FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	if err := s.db(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, notFound(err, "User")
	}
	return &u, nil
}

func (s *GormStore) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	if err := s.db(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&u).Error; err != nil {
		return nil, notFound(err, "User")
	}
	return &u, nil
}

func (s *GormStore) FindUserByResetToken(ctx context.Context, hashedToken string, now time.Time) (*domain.User, error) {
	var u domain.User
	err := s.db(ctx).
		Where("password_reset_token = ? AND password_reset_expires > ?", hashedToken, now).
		First(&u).Error
	if err != nil {
		return nil, notFound(err, "Reset token")
	}
	return &u, nil
}

func (s *GormStore) FindUserByVerificationToken(ctx context.Context, token string) (*domain.User, error) {
	var u domain.User
	if err := s.db(ctx).Where("email_verification_token = ?", token).First(&u).Error; err != nil {
		return nil, notFound(err, "Verification token")
	}
	return &u, nil
}

func (s *GormStore) SaveUser(ctx context.Context, u *domain.User) error {
	return s.db(ctx).Save(u).Error
}
