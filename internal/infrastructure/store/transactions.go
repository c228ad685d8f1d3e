package store

import (
	"context"
	"time"

	"carbonease-backend/internal/domain"
	"carbonease-backend/internal/infrastructure/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransactionFilter scopes a transaction list to a participant and optional statuses.
type TransactionFilter struct {
	Page
	BuyerID       *uuid.UUID
	SellerID      *uuid.UUID
	Status        domain.TransactionStatus
	PaymentStatus domain.PaymentStatus
}

func (s *GormStore) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	return s.db(ctx).Omit(clause.Associations).Create(t).Error
}

func (s *GormStore) FindTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return s.findTransaction(ctx, "id = ?", id)
}

func (s *GormStore) FindTransactionByPaymentIntent(ctx context.Context, paymentIntentID string) (*domain.Transaction, error) {
	return s.findTransaction(ctx, "payment_stripe_payment_intent_id = ?", paymentIntentID)
}

func (s *GormStore) FindTransactionBySession(ctx context.Context, sessionID string) (*domain.Transaction, error) {
	return s.findTransaction(ctx, "payment_stripe_session_id = ?", sessionID)
}

// FindTransactionForUpdate loads a transaction and locks its row until the
// surrounding WithTx ends. Call it only inside WithTx. SQLite has no row locks;
// its single connection already serializes writers.
func (s *GormStore) FindTransactionForUpdate(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	q := s.db(ctx)
	if database.IsPostgres(s.DB) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var t domain.Transaction
	if err := q.Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err, "Transaction")
	}
	if err := s.db(ctx).Where("transaction_id = ?", t.ID).Order("issue_date ASC").Find(&t.Certificates).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *GormStore) findTransaction(ctx context.Context, query string, arg interface{}) (*domain.Transaction, error) {
	var t domain.Transaction
	err := s.db(ctx).
		Preload("Certificates", func(db *gorm.DB) *gorm.DB { return db.Order("issue_date ASC") }).
		Where(query, arg).
		First(&t).Error
	if err != nil {
		return nil, notFound(err, "Transaction")
	}
	return &t, nil
}

// SaveTransaction writes the transaction row; certificates are stored separately.
func (s *GormStore) SaveTransaction(ctx context.Context, t *domain.Transaction) error {
	return s.db(ctx).Omit(clause.Associations).Save(t).Error
}

func (s *GormStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]domain.Transaction, int64, error) {
	q := s.db(ctx).Model(&domain.Transaction{})
	switch {
	case f.BuyerID != nil && f.SellerID != nil:
		q = q.Where("buyer_id = ? OR seller_id = ?", *f.BuyerID, *f.SellerID)
	case f.BuyerID != nil:
		q = q.Where("buyer_id = ?", *f.BuyerID)
	case f.SellerID != nil:
		q = q.Where("seller_id = ?", *f.SellerID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.PaymentStatus != "" {
		q = q.Where("payment_status = ?", f.PaymentStatus)
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	p := f.Page.Normalized()
	var out []domain.Transaction
	err := q.Preload("Certificates").
		Order("created_at DESC").
		Offset(p.Offset()).
		Limit(p.Limit).
		Find(&out).Error
	return out, total, err
}

func (s *GormStore) CreateCertificate(ctx context.Context, c *domain.TransactionCertificate) error {
	return s.db(ctx).Create(c).Error
}

func (s *GormStore) MarkCertificateDownloaded(ctx context.Context, id uuid.UUID, now time.Time) error {
	return s.db(ctx).Model(&domain.TransactionCertificate{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{"is_downloaded": true, "downloaded_at": now}).Error
}

// MarkEventProcessed inserts the event id, doing nothing if it already exists.
func (s *GormStore) MarkEventProcessed(ctx context.Context, e *domain.ProcessedEvent) (bool, error) {
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now()
	}
	res := s.db(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(e)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
