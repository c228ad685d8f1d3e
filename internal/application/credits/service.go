package credits

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"carbonease-backend/internal/domain"
	"carbonease-backend/internal/infrastructure/metrics"
	"carbonease-backend/internal/infrastructure/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Service owns carbon credit listings: marketplace browsing, seller CRUD,
// admin verification and the certification expiry sweep.
type Service struct {
	Store   store.CreditStore
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func NewService(s store.CreditStore, m *metrics.Metrics) *Service {
	return &Service{Store: s, Metrics: m, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// BrowseQuery holds the public marketplace filters.
type BrowseQuery struct {
	store.Page
	EnergyType string
	Country    string
	Standard   string
	MinPrice   float64
	MaxPrice   float64
	Search     string
	SortBy     string
	SortDesc   bool
}

// Browse lists active, verified listings that still have credits.
func (s *Service) Browse(ctx context.Context, q BrowseQuery) ([]domain.CreditListing, int64, error) {
	if q.EnergyType != "" && !contains(domain.EnergyTypes, q.EnergyType) {
		return nil, 0, domain.NewValidationError("Invalid energy type")
	}
	if q.MinPrice < 0 || q.MaxPrice < 0 || (q.MaxPrice > 0 && q.MinPrice > q.MaxPrice) {
		return nil, 0, domain.NewValidationError("Invalid price range")
	}
	return s.Store.ListCredits(ctx, store.CreditFilter{
		Page:         q.Page,
		Statuses:     []domain.ListingStatus{domain.ListingActive},
		VerifiedOnly: true,
		InStockOnly:  true,
		EnergyType:   q.EnergyType,
		Country:      q.Country,
		Standard:     q.Standard,
		MinPrice:     q.MinPrice,
		MaxPrice:     q.MaxPrice,
		Search:       q.Search,
		SortBy:       q.SortBy,
		SortDesc:     q.SortDesc,
	})
}

// Get returns a listing and counts the view. The seller's own visits are not
// counted; viewer is nil for anonymous requests.
func (s *Service) Get(ctx context.Context, viewer *domain.User, id uuid.UUID) (*domain.CreditListing, error) {
	c, err := s.Store.FindCredit(ctx, id)
	if err != nil {
		return nil, err
	}
	if viewer != nil && viewer.ID == c.SellerID {
		return c, nil
	}
	if err := s.Store.IncrementCreditViews(ctx, id); err != nil {
		log.Warn().Err(err).Str("credit_id", id.String()).Msg("view count not incremented")
	}
	return c, nil
}

// CreditInput is the seller-editable part of a listing. AvailableCredits
// defaults to TotalCredits when omitted.
type CreditInput struct {
	Title            string                   `json:"title"`
	Description      string                   `json:"description"`
	EnergyType       string                   `json:"energyType"`
	Location         domain.ProjectLocation   `json:"projectLocation"`
	TotalCredits     int                      `json:"totalCredits"`
	AvailableCredits *int                     `json:"availableCredits"`
	PricePerCredit   float64                  `json:"pricePerCredit"`
	Currency         string                   `json:"currency"`
	Certification    domain.Certification     `json:"certification"`
	ProjectDetails   domain.ProjectDetails    `json:"projectDetails"`
	Images           []domain.ListingImage    `json:"images"`
	Documents        []domain.ListingDocument `json:"documents"`
	Tags             []string                 `json:"tags"`
	Status           domain.ListingStatus     `json:"status"`
}

func (in CreditInput) listing(sellerID uuid.UUID) *domain.CreditListing {
	available := in.TotalCredits
	if in.AvailableCredits != nil {
		available = *in.AvailableCredits
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "USD"
	}
	status := in.Status
	if status == "" {
		status = domain.ListingDraft
	}
	if in.ProjectDetails.Unit == "" {
		in.ProjectDetails.Unit = "tonnes"
	}
	return &domain.CreditListing{
		SellerID:         sellerID,
		Title:            strings.TrimSpace(in.Title),
		Description:      strings.TrimSpace(in.Description),
		EnergyType:       in.EnergyType,
		Location:         in.Location,
		TotalCredits:     in.TotalCredits,
		AvailableCredits: available,
		PricePerCredit:   in.PricePerCredit,
		Currency:         currency,
		Certification:    in.Certification,
		ProjectDetails:   in.ProjectDetails,
		Images:           in.Images,
		Documents:        in.Documents,
		Tags:             normalizeTags(in.Tags),
		Status:           status,
	}
}

var sellerStatuses = []string{string(domain.ListingDraft), string(domain.ListingActive), string(domain.ListingSuspended)}

func checkSellerStatus(st domain.ListingStatus) error {
	if !contains(sellerStatuses, string(st)) {
		return domain.NewValidationError("Validation failed").Add("status", "Status must be draft, active or suspended")
	}
	return nil
}

// Create stores a new listing owned by the seller.
func (s *Service) Create(ctx context.Context, seller *domain.User, in CreditInput) (*domain.CreditListing, error) {
	if seller.Role != domain.RoleSeller {
		return nil, &domain.NotAuthorizedError{Message: "Only sellers can create carbon credits"}
	}
	c := in.listing(seller.ID)
	if err := checkSellerStatus(c.Status); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.Normalize()
	if err := s.Store.CreateCredit(ctx, c); err != nil {
		return nil, err
	}
	log.Info().Str("credit_id", c.ID.String()).Str("seller_id", seller.ID.String()).Int("total", c.TotalCredits).Msg("carbon credit listed")
	return c, nil
}

// Update applies a partial JSON patch to the owner's listing. Once any
// purchase has touched the listing it can no longer be edited.
func (s *Service) Update(ctx context.Context, actor *domain.User, id uuid.UUID, patch json.RawMessage) (*domain.CreditListing, error) {
	existing, err := s.Store.FindCredit(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.SellerID != actor.ID {
		return nil, &domain.NotAuthorizedError{Message: "Not authorized to update this credit"}
	}
	if existing.PurchaseCount > 0 {
		return nil, &domain.ConflictError{Message: "Cannot update credit with existing transactions"}
	}

	updated := *existing
	if err := json.Unmarshal(patch, &updated); err != nil {
		return nil, domain.NewValidationError("Invalid request body")
	}
	// fields the seller never controls
	updated.ID = existing.ID
	updated.SellerID = existing.SellerID
	updated.CreatedAt = existing.CreatedAt
	updated.ViewCount = existing.ViewCount
	updated.PurchaseCount = existing.PurchaseCount
	updated.AverageRating = existing.AverageRating
	updated.TotalReviews = existing.TotalReviews
	updated.IsVerified = existing.IsVerified
	updated.VerificationDate = existing.VerificationDate
	updated.VerifiedBy = existing.VerifiedBy
	updated.Tags = normalizeTags(updated.Tags)
	updated.Title = strings.TrimSpace(updated.Title)
	updated.Description = strings.TrimSpace(updated.Description)

	if updated.Status != existing.Status {
		if err := checkSellerStatus(updated.Status); err != nil {
			return nil, err
		}
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	updated.Normalize()

	ok, err := s.Store.UpdateCreditIfUnsold(ctx, &updated)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &domain.ConflictError{Message: "Cannot update credit with existing transactions"}
	}
	return s.Store.FindCredit(ctx, id)
}

func (s *Service) Delete(ctx context.Context, actor *domain.User, id uuid.UUID) error {
	existing, err := s.Store.FindCredit(ctx, id)
	if err != nil {
		return err
	}
	if existing.SellerID != actor.ID {
		return &domain.NotAuthorizedError{Message: "Not authorized to delete this credit"}
	}
	ok, err := s.Store.DeleteCreditIfUnsold(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return &domain.ConflictError{Message: "Cannot delete credit with existing transactions"}
	}
	log.Info().Str("credit_id", id.String()).Str("seller_id", actor.ID.String()).Msg("carbon credit deleted")
	return nil
}

// MyCredits lists every listing the seller owns, newest first.
func (s *Service) MyCredits(ctx context.Context, seller *domain.User, status domain.ListingStatus, page store.Page) ([]domain.CreditListing, int64, error) {
	f := store.CreditFilter{Page: page, SellerID: &seller.ID, SortBy: "createdAt", SortDesc: true}
	if status != "" {
		f.Statuses = []domain.ListingStatus{status}
	}
	return s.Store.ListCredits(ctx, f)
}

func (s *Service) SellerStats(ctx context.Context, seller *domain.User) (store.CreditStats, error) {
	return s.Store.SellerCreditStats(ctx, seller.ID)
}

// Verify marks a listing verified (or revokes verification). Admin only.
func (s *Service) Verify(ctx context.Context, admin *domain.User, id uuid.UUID, verified bool) (*domain.CreditListing, error) {
	if admin.Role != domain.RoleAdmin {
		return nil, &domain.NotAuthorizedError{Message: "Only admins can verify carbon credits"}
	}
	if err := s.Store.SetCreditVerified(ctx, id, admin.ID, verified, s.now()); err != nil {
		return nil, err
	}
	log.Info().Str("credit_id", id.String()).Str("admin_id", admin.ID.String()).Bool("verified", verified).Msg("carbon credit verification changed")
	return s.Store.FindCredit(ctx, id)
}

func (s *Service) EnergyTypes(ctx context.Context) ([]string, error) {
	return s.Store.DistinctCreditValues(ctx, store.FacetEnergyType)
}

func (s *Service) CertificationStandards(ctx context.Context) ([]string, error) {
	return s.Store.DistinctCreditValues(ctx, store.FacetStandard)
}

func (s *Service) Countries(ctx context.Context) ([]string, error) {
	return s.Store.DistinctCreditValues(ctx, store.FacetCountry)
}

// ExpireCertifications moves listings whose certification lapsed to expired.
func (s *Service) ExpireCertifications(ctx context.Context) (int64, error) {
	n, err := s.Store.ExpireCredits(ctx, s.now())
	if err != nil {
		return 0, err
	}
	s.Metrics.RecordExpired(n)
	return n, nil
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
