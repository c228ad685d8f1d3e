package store

import (
	"context"
	"errors"
	"time"

	"carbonease-backend/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	FindUserByResetToken(ctx context.Context, hashedToken string, now time.Time) (*domain.User, error)
	FindUserByVerificationToken(ctx context.Context, token string) (*domain.User, error)
	SaveUser(ctx context.Context, u *domain.User) error
}

type CreditStore interface {
	CreateCredit(ctx context.Context, c *domain.CreditListing) error
	FindCredit(ctx context.Context, id uuid.UUID) (*domain.CreditListing, error)
	ListCredits(ctx context.Context, f CreditFilter) ([]domain.CreditListing, int64, error)
	UpdateCreditIfUnsold(ctx context.Context, c *domain.CreditListing) (bool, error)
	DeleteCreditIfUnsold(ctx context.Context, id uuid.UUID) (bool, error)
	IncrementCreditViews(ctx context.Context, id uuid.UUID) error
	SetCreditVerified(ctx context.Context, id, adminID uuid.UUID, verified bool, now time.Time) error
	ReserveCredits(ctx context.Context, id uuid.UUID, qty int) (bool, error)
	ReleaseCredits(ctx context.Context, id uuid.UUID, qty int) error
	AddCreditRating(ctx context.Context, id uuid.UUID, rating int) error
	ExpireCredits(ctx context.Context, now time.Time) (int64, error)
	DistinctCreditValues(ctx context.Context, field CreditFacet) ([]string, error)
	SellerCreditStats(ctx context.Context, sellerID uuid.UUID) (CreditStats, error)
}

type TransactionStore interface {
	CreateTransaction(ctx context.Context, t *domain.Transaction) error
	FindTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	FindTransactionForUpdate(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	FindTransactionByPaymentIntent(ctx context.Context, paymentIntentID string) (*domain.Transaction, error)
	FindTransactionBySession(ctx context.Context, sessionID string) (*domain.Transaction, error)
	SaveTransaction(ctx context.Context, t *domain.Transaction) error
	ListTransactions(ctx context.Context, f TransactionFilter) ([]domain.Transaction, int64, error)
	TransactionStats(ctx context.Context, userID uuid.UUID, role domain.Role) (TransactionStats, error)
	CreateCertificate(ctx context.Context, c *domain.TransactionCertificate) error
	MarkCertificateDownloaded(ctx context.Context, id uuid.UUID, now time.Time) error
}

type EventStore interface {
	// MarkEventProcessed records an event id; false means it was already recorded.
	MarkEventProcessed(ctx context.Context, e *domain.ProcessedEvent) (bool, error)
}

// Store is the persistence boundary of the marketplace.
type Store interface {
	UserStore
	CreditStore
	TransactionStore
	EventStore
	// WithTx runs fn against a Store bound to one database transaction.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// GormStore implements Store on GORM (Postgres in production, SQLite otherwise).
type GormStore struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) WithTx(ctx context.Context, fn func(Store) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{DB: tx})
	})
}

func (s *GormStore) db(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx)
}

func notFound(err error, resource string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.NotFoundError{Resource: resource}
	}
	return err
}

// Page is a 1-based page request.
type Page struct {
	Page  int
	Limit int
}

const (
	defaultLimit = 12
	maxLimit     = 100
)

// Normalized returns the page with defaults and caps applied.
func (p Page) Normalized() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}

func (p Page) Offset() int {
	n := p.Normalized()
	return (n.Page - 1) * n.Limit
}
