package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carbonease-backend/internal/domain"
	"carbonease-backend/internal/infrastructure/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreditFilter narrows a listing query. Zero values mean "no constraint".
type CreditFilter struct {
	Page
	Statuses     []domain.ListingStatus
	SellerID     *uuid.UUID
	VerifiedOnly bool
	InStockOnly  bool
	EnergyType   string
	Country      string
	Standard     string
	MinPrice     float64
	MaxPrice     float64
	Search       string
	SortBy       string
	SortDesc     bool
}

type CreditFacet string

const (
	FacetEnergyType CreditFacet = "energy_type"
	FacetStandard   CreditFacet = "cert_standard"
	FacetCountry    CreditFacet = "location_country"
)

var creditSortColumns = map[string]string{
	"createdAt":        "created_at",
	"pricePerCredit":   "price_per_credit",
	"availableCredits": "available_credits",
	"totalCredits":     "total_credits",
	"averageRating":    "average_rating",
	"viewCount":        "view_count",
	"title":            "title",
}

// columns a seller may not overwrite through an edit
var creditProtectedColumns = []string{
	"id", "seller_id", "created_at", "view_count", "purchase_count",
	"average_rating", "total_reviews", "is_verified", "verification_date", "verified_by",
}

func (s *GormStore) CreateCredit(ctx context.Context, c *domain.CreditListing) error {
	return s.db(ctx).Create(c).Error
}

func (s *GormStore) FindCredit(ctx context.Context, id uuid.UUID) (*domain.CreditListing, error) {
	var c domain.CreditListing
	if err := s.db(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err, "Carbon credit")
	}
	return &c, nil
}

func (s *GormStore) ListCredits(ctx context.Context, f CreditFilter) ([]domain.CreditListing, int64, error) {
	q := s.db(ctx).Model(&domain.CreditListing{})
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.SellerID != nil {
		q = q.Where("seller_id = ?", *f.SellerID)
	}
	if f.VerifiedOnly {
		q = q.Where("is_verified = ?", true)
	}
	if f.InStockOnly {
		q = q.Where("available_credits > 0")
	}
	if f.EnergyType != "" {
		q = q.Where("energy_type = ?", f.EnergyType)
	}
	if f.Country != "" {
		q = q.Where("LOWER(location_country) = ?", strings.ToLower(f.Country))
	}
	if f.Standard != "" {
		q = q.Where("cert_standard = ?", f.Standard)
	}
	if f.MinPrice > 0 {
		q = q.Where("price_per_credit >= ?", f.MinPrice)
	}
	if f.MaxPrice > 0 {
		q = q.Where("price_per_credit <= ?", f.MaxPrice)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		q = s.searchCredits(q, term)
	}

	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	col, ok := creditSortColumns[f.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "ASC"
	if f.SortDesc || f.SortBy == "" {
		dir = "DESC"
	}
	p := f.Page.Normalized()
	var out []domain.CreditListing
	err := q.Order(fmt.Sprintf("%s %s", col, dir)).Offset(p.Offset()).Limit(p.Limit).Find(&out).Error
	return out, total, err
}

func (s *GormStore) searchCredits(q *gorm.DB, term string) *gorm.DB {
	if database.IsPostgres(s.DB) {
		return q.Where(`to_tsvector('english', coalesce(title, '') || ' ' || coalesce(description, '') || ' ' || coalesce(project_name, '')) @@ plainto_tsquery('english', ?)`, term)
	}
	like := "%" + strings.ToLower(term) + "%"
	return q.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(project_name) LIKE ?", like, like, like)
}

// UpdateCreditIfUnsold writes a seller edit only while no purchase has touched the listing.
func (s *GormStore) UpdateCreditIfUnsold(ctx context.Context, c *domain.CreditListing) (bool, error) {
	res := s.db(ctx).Model(c).
		Where("purchase_count = ?", 0).
		Select("*").
		Omit(creditProtectedColumns...).
		Updates(c)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) DeleteCreditIfUnsold(ctx context.Context, id uuid.UUID) (bool, error) {
	res := s.db(ctx).Where("id = ? AND purchase_count = ?", id, 0).Delete(&domain.CreditListing{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) IncrementCreditViews(ctx context.Context, id uuid.UUID) error {
	return s.db(ctx).Model(&domain.CreditListing{}).
		Where("id = ?", id).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", 1)).Error
}

func (s *GormStore) SetCreditVerified(ctx context.Context, id, adminID uuid.UUID, verified bool, now time.Time) error {
	updates := map[string]interface{}{
		"is_verified": verified,
		"updated_at":  now,
	}
	if verified {
		updates["verification_date"] = now
		updates["verified_by"] = adminID
	} else {
		updates["verification_date"] = nil
		updates["verified_by"] = nil
	}
	res := s.db(ctx).Model(&domain.CreditListing{}).Where("id = ?", id).UpdateColumns(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &domain.NotFoundError{Resource: "Carbon credit"}
	}
	return nil
}

// ReserveCredits takes qty credits in one conditional statement; false means not enough were left.
func (s *GormStore) ReserveCredits(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	res := s.db(ctx).Model(&domain.CreditListing{}).
		Where("id = ? AND available_credits >= ?", id, qty).
		UpdateColumns(map[string]interface{}{
			"available_credits": gorm.Expr("available_credits - ?", qty),
			"purchase_count":    gorm.Expr("purchase_count + ?", 1),
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	err := s.db(ctx).Model(&domain.CreditListing{}).
		Where("id = ? AND status = ? AND available_credits = 0", id, domain.ListingActive).
		UpdateColumn("status", domain.ListingSoldOut).Error
	return true, err
}

// ReleaseCredits returns qty credits, never exceeding totalCredits.
func (s *GormStore) ReleaseCredits(ctx context.Context, id uuid.UUID, qty int) error {
	res := s.db(ctx).Model(&domain.CreditListing{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"available_credits": gorm.Expr("CASE WHEN available_credits + ? > total_credits THEN total_credits ELSE available_credits + ? END", qty, qty),
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &domain.NotFoundError{Resource: "Carbon credit"}
	}
	return s.db(ctx).Model(&domain.CreditListing{}).
		Where("id = ? AND status = ? AND available_credits > 0", id, domain.ListingSoldOut).
		UpdateColumn("status", domain.ListingActive).Error
}

// AddCreditRating folds one buyer rating into the running average.
func (s *GormStore) AddCreditRating(ctx context.Context, id uuid.UUID, rating int) error {
	return s.db(ctx).Model(&domain.CreditListing{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"average_rating": gorm.Expr("(average_rating * total_reviews + ?) / (total_reviews + 1)", float64(rating)),
			"total_reviews":  gorm.Expr("total_reviews + ?", 1),
		}).Error
}

// ExpireCredits marks listings whose certification lapsed before now.
func (s *GormStore) ExpireCredits(ctx context.Context, now time.Time) (int64, error) {
	res := s.db(ctx).Model(&domain.CreditListing{}).
		Where("status IN ? AND cert_expiry_date < ?", []domain.ListingStatus{domain.ListingActive, domain.ListingSoldOut, domain.ListingDraft}, now).
		UpdateColumns(map[string]interface{}{"status": domain.ListingExpired, "updated_at": now})
	return res.RowsAffected, res.Error
}

// DistinctCreditValues lists the values of a facet across marketplace-visible listings.
func (s *GormStore) DistinctCreditValues(ctx context.Context, field CreditFacet) ([]string, error) {
	switch field {
	case FacetEnergyType, FacetStandard, FacetCountry:
	default:
		return nil, fmt.Errorf("unknown facet %q", field)
	}
	var out []string
	err := s.db(ctx).Model(&domain.CreditListing{}).
		Where("status = ? AND is_verified = ?", domain.ListingActive, true).
		Distinct(string(field)).
		Order(string(field)).
		Pluck(string(field), &out).Error
	return out, err
}
