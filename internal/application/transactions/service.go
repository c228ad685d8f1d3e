package transactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"carbonease-backend/internal/domain"
	"carbonease-backend/internal/infrastructure/certificates"
	"carbonease-backend/internal/infrastructure/events"
	"carbonease-backend/internal/infrastructure/metrics"
	"carbonease-backend/internal/infrastructure/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Refunder issues a gateway refund; the payments orchestrator implements it.
type Refunder interface {
	ProcessRefund(ctx context.Context, actor *domain.User, transactionID uuid.UUID, amount *float64, reason string) (*domain.Transaction, error)
}

type Service struct {
	Store      store.Store
	Metrics    *metrics.Metrics
	Events     events.Publisher
	Refunds    Refunder
	CertNumber certificates.NumberGenerator
	Now        func() time.Time
}

func NewService(s store.Store, m *metrics.Metrics, pub events.Publisher, certNumber certificates.NumberGenerator) *Service {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{Store: s, Metrics: m, Events: pub, CertNumber: certNumber, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

type CreateInput struct {
	CarbonCreditID uuid.UUID `json:"carbonCreditId"`
	Quantity       int       `json:"quantity"`
	BuyerNotes     string    `json:"buyerNotes"`
}

// Create opens a pending purchase. Credits are not reserved until payment settles.
func (s *Service) Create(ctx context.Context, buyer *domain.User, in CreateInput) (*domain.Transaction, error) {
	if buyer.Role != domain.RoleBuyer {
		return nil, &domain.NotAuthorizedError{Message: fmt.Sprintf("User role %s is not authorized to access this route", buyer.Role)}
	}
	if in.CarbonCreditID == uuid.Nil {
		return nil, domain.NewValidationError("Validation failed", domain.FieldError{Field: "carbonCreditId", Message: "Carbon credit is required"})
	}
	listing, err := s.Store.FindCredit(ctx, in.CarbonCreditID)
	if err != nil {
		return nil, err
	}
	if err := listing.PurchaseBlocker(in.Quantity, s.now()); err != nil {
		return nil, err
	}
	if listing.SellerID == buyer.ID {
		return nil, domain.NewValidationError("Cannot purchase your own carbon credits")
	}
	t, err := domain.NewTransaction(listing, buyer.ID, in.Quantity)
	if err != nil {
		return nil, err
	}
	t.Metadata.BuyerNotes = strings.TrimSpace(in.BuyerNotes)
	if err := s.Store.CreateTransaction(ctx, t); err != nil {
		return nil, err
	}
	s.Metrics.RecordTransactionCreated(t.Currency)
	s.publish(ctx, events.TransactionCreated, t)
	log.Info().Str("transaction", t.Reference).Str("buyer_id", buyer.ID.String()).Int("quantity", t.Quantity).Msg("transaction created")
	return t, nil
}

type ListQuery struct {
	store.Page
	Status        domain.TransactionStatus
	PaymentStatus domain.PaymentStatus
}

// List scopes by role: buyers see purchases, sellers see sales, admins see everything.
func (s *Service) List(ctx context.Context, actor *domain.User, q ListQuery) ([]domain.Transaction, int64, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, 0, domain.NewValidationError("Invalid status filter")
	}
	f := store.TransactionFilter{Page: q.Page, Status: q.Status, PaymentStatus: q.PaymentStatus}
	switch actor.Role {
	case domain.RoleBuyer:
		f.BuyerID = &actor.ID
	case domain.RoleSeller:
		f.SellerID = &actor.ID
	}
	return s.Store.ListTransactions(ctx, f)
}

func (s *Service) Get(ctx context.Context, actor *domain.User, id uuid.UUID) (*domain.Transaction, error) {
	return s.load(ctx, actor, id, "Not authorized to view this transaction", true)
}

// load fetches a transaction the actor takes part in.
func (s *Service) load(ctx context.Context, actor *domain.User, id uuid.UUID, denied string, adminAllowed bool) (*domain.Transaction, error) {
	t, err := s.Store.FindTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.IsParticipant(actor.ID) || (adminAllowed && actor.Role == domain.RoleAdmin) {
		return t, nil
	}
	return nil, &domain.NotAuthorizedError{Message: denied}
}

// UpdateStatus applies a participant-requested transition and its side effects.
// The row is re-read under lock so gateway callbacks cannot interleave.
func (s *Service) UpdateStatus(ctx context.Context, actor *domain.User, id uuid.UUID, to domain.TransactionStatus) (*domain.Transaction, error) {
	t, err := s.load(ctx, actor, id, "Not authorized to update this transaction", false)
	if err != nil {
		return nil, err
	}
	if to == domain.TxCancelled {
		return s.cancel(ctx, actor, id, "")
	}
	if to == domain.TxRefunded && domain.CanTransition(t.Status, to) && t.Payment.Status == domain.PaymentCompleted && s.Refunds != nil {
		return s.Refunds.ProcessRefund(ctx, actor, id, nil, "Refund requested by "+string(actor.Role))
	}
	now := s.now()
	var cert *domain.TransactionCertificate
	err = s.Store.WithTx(ctx, func(tx store.Store) error {
		locked, err := tx.FindTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := locked.RequestTransition(to); err != nil {
			return err
		}
		t = locked
		switch to {
		case domain.TxCompleted:
			if !t.CreditsReserved {
				ok, err := tx.ReserveCredits(ctx, t.CarbonCreditID, t.Quantity)
				if err != nil {
					return err
				}
				if !ok {
					return &domain.InvalidStateError{Message: "Insufficient credits available to complete this transaction"}
				}
				t.CreditsReserved = true
			}
			t.MarkDelivered(now)
			c, err := s.issueCertificate(ctx, tx, t, now)
			if err != nil {
				return err
			}
			cert = c
		case domain.TxRefunded:
			if t.Payment.Status == domain.PaymentCompleted {
				return &domain.InvalidStateError{Message: "Paid transactions must be refunded through the payment provider"}
			}
			if err := s.release(ctx, tx, t); err != nil {
				return err
			}
		}
		return tx.SaveTransaction(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	if cert != nil {
		t.Certificates = append(t.Certificates, *cert)
	}
	s.Metrics.RecordStatus(string(to), "user")
	s.publish(ctx, statusEvent(to), t)
	log.Info().Str("transaction", t.Reference).Str("status", string(to)).Str("actor_id", actor.ID.String()).Msg("transaction status updated")
	return t, nil
}

// Cancel stops a pending or processing transaction and keeps the reason as an internal note.
func (s *Service) Cancel(ctx context.Context, actor *domain.User, id uuid.UUID, reason string) (*domain.Transaction, error) {
	if _, err := s.load(ctx, actor, id, "Not authorized to cancel this transaction", false); err != nil {
		return nil, err
	}
	return s.cancel(ctx, actor, id, reason)
}

// cancel is shared by Cancel and UpdateStatus. Paid transactions are refused
// and any reserved credits go back to the listing.
func (s *Service) cancel(ctx context.Context, actor *domain.User, id uuid.UUID, reason string) (*domain.Transaction, error) {
	var t *domain.Transaction
	err := s.Store.WithTx(ctx, func(tx store.Store) error {
		locked, err := tx.FindTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status != domain.TxPending && locked.Status != domain.TxProcessing {
			return &domain.InvalidStateError{Message: "Transaction cannot be cancelled in current status"}
		}
		if locked.Payment.Status == domain.PaymentCompleted {
			return &domain.InvalidStateError{Message: "Paid transactions must be refunded instead of cancelled"}
		}
		locked.Status = domain.TxCancelled
		if locked.Payment.Status == domain.PaymentPending || locked.Payment.Status == domain.PaymentProcessing {
			locked.Payment.Status = domain.PaymentCancelled
		}
		if reason = strings.TrimSpace(reason); reason != "" {
			locked.Metadata.AppendInternalNote(reason)
		}
		if err := s.release(ctx, tx, locked); err != nil {
			return err
		}
		t = locked
		return tx.SaveTransaction(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.RecordStatus(string(domain.TxCancelled), "user")
	s.publish(ctx, events.TransactionCancelled, t)
	log.Info().Str("transaction", t.Reference).Str("actor_id", actor.ID.String()).Msg("transaction cancelled")
	return t, nil
}

type ReviewInput struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// Review records the actor's side of the review. A buyer review feeds the listing's rating.
func (s *Service) Review(ctx context.Context, actor *domain.User, id uuid.UUID, in ReviewInput) (*domain.Transaction, error) {
	if err := domain.ValidateReview(in.Rating, in.Comment); err != nil {
		return nil, err
	}
	t, err := s.Store.FindTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TxCompleted {
		return nil, &domain.InvalidStateError{Message: "Can only review completed transactions"}
	}
	if !t.IsParticipant(actor.ID) {
		return nil, &domain.NotAuthorizedError{Message: "Not authorized to review this transaction"}
	}
	now := s.now()
	review := domain.Review{Rating: in.Rating, Comment: strings.TrimSpace(in.Comment), ReviewedAt: &now}
	isBuyer := actor.ID == t.BuyerID
	if (isBuyer && t.Reviews.Buyer.Submitted()) || (!isBuyer && t.Reviews.Seller.Submitted()) {
		return nil, &domain.InvalidStateError{Message: "You have already reviewed this transaction"}
	}
	err = s.Store.WithTx(ctx, func(tx store.Store) error {
		if isBuyer {
			t.Reviews.Buyer = review
			if err := tx.AddCreditRating(ctx, t.CarbonCreditID, in.Rating); err != nil {
				return err
			}
		} else {
			t.Reviews.Seller = review
		}
		return tx.SaveTransaction(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) Stats(ctx context.Context, actor *domain.User) (store.TransactionStats, error) {
	return s.Store.TransactionStats(ctx, actor.ID, actor.Role)
}

// CertificateLink is returned when a buyer or seller downloads a certificate.
type CertificateLink struct {
	DownloadURL       string `json:"downloadUrl"`
	CertificateNumber string `json:"certificateNumber"`
}

// DownloadCertificate marks the certificate downloaded and hands back its link.
func (s *Service) DownloadCertificate(ctx context.Context, actor *domain.User, id, certID uuid.UUID) (*CertificateLink, error) {
	t, cert, err := s.certificate(ctx, actor, id, certID)
	if err != nil {
		return nil, err
	}
	if err := s.Store.MarkCertificateDownloaded(ctx, cert.ID, s.now()); err != nil {
		return nil, err
	}
	log.Info().Str("transaction", t.Reference).Str("certificate", cert.CertificateNumber).Msg("certificate downloaded")
	return &CertificateLink{DownloadURL: cert.DownloadURL, CertificateNumber: cert.CertificateNumber}, nil
}

// CertificatePDF renders the certificate document.
func (s *Service) CertificatePDF(ctx context.Context, actor *domain.User, id, certID uuid.UUID) (string, []byte, error) {
	t, cert, err := s.certificate(ctx, actor, id, certID)
	if err != nil {
		return "", nil, err
	}
	listing, err := s.Store.FindCredit(ctx, t.CarbonCreditID)
	if err != nil {
		return "", nil, err
	}
	buyer, err := s.Store.FindUserByID(ctx, t.BuyerID)
	if err != nil {
		return "", nil, err
	}
	seller, err := s.Store.FindUserByID(ctx, t.SellerID)
	if err != nil {
		return "", nil, err
	}
	sellerName := seller.FullName()
	if seller.Company != "" {
		sellerName = seller.Company
	}
	pdf, err := certificates.Render(certificates.Data{
		CertificateNumber: cert.CertificateNumber,
		TransactionRef:    t.Reference,
		BuyerName:         buyer.FullName(),
		SellerName:        sellerName,
		ProjectName:       listing.ProjectDetails.ProjectName,
		ProjectCountry:    listing.Location.Country,
		EnergyType:        listing.EnergyType,
		Standard:          listing.Certification.Standard,
		RegistryNumber:    listing.Certification.CertificateNumber,
		Quantity:          t.Quantity,
		Unit:              listing.ProjectDetails.Unit,
		TotalAmount:       t.TotalAmount,
		Currency:          t.Currency,
		IssueDate:         cert.IssueDate,
		ExpiryDate:        cert.ExpiryDate,
	})
	if err != nil {
		return "", nil, fmt.Errorf("render certificate: %w", err)
	}
	return cert.CertificateNumber + ".pdf", pdf, nil
}

func (s *Service) certificate(ctx context.Context, actor *domain.User, id, certID uuid.UUID) (*domain.Transaction, *domain.TransactionCertificate, error) {
	t, err := s.load(ctx, actor, id, "Not authorized to download this certificate", true)
	if err != nil {
		return nil, nil, err
	}
	for i := range t.Certificates {
		if t.Certificates[i].ID == certID {
			return t, &t.Certificates[i], nil
		}
	}
	return nil, nil, &domain.NotFoundError{Resource: "Certificate"}
}

func (s *Service) issueCertificate(ctx context.Context, tx store.Store, t *domain.Transaction, now time.Time) (*domain.TransactionCertificate, error) {
	if s.CertNumber == nil {
		return nil, errors.New("certificate number generator not configured")
	}
	listing, err := tx.FindCredit(ctx, t.CarbonCreditID)
	if err != nil {
		return nil, err
	}
	expiry := listing.Certification.ExpiryDate
	cert := &domain.TransactionCertificate{
		ID:                uuid.New(),
		TransactionID:     t.ID,
		CertificateNumber: s.CertNumber(),
		IssueDate:         now,
	}
	if !expiry.IsZero() {
		cert.ExpiryDate = &expiry
	}
	cert.DownloadURL = fmt.Sprintf("/api/transactions/%s/certificate/%s/pdf", t.ID, cert.ID)
	if err := tx.CreateCertificate(ctx, cert); err != nil {
		return nil, err
	}
	return cert, nil
}

// release puts reserved credits back on the listing.
func (s *Service) release(ctx context.Context, tx store.Store, t *domain.Transaction) error {
	if !t.CreditsReserved {
		return nil
	}
	if err := tx.ReleaseCredits(ctx, t.CarbonCreditID, t.Quantity); err != nil {
		return err
	}
	t.CreditsReserved = false
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, t *domain.Transaction) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, events.NewTransactionEvent(eventType, t)); err != nil {
		log.Warn().Err(err).Str("transaction", t.Reference).Str("event", eventType).Msg("event not published")
	}
}

func statusEvent(to domain.TransactionStatus) string {
	switch to {
	case domain.TxCompleted:
		return events.TransactionCompleted
	case domain.TxCancelled:
		return events.TransactionCancelled
	case domain.TxRefunded:
		return events.TransactionRefunded
	}
	return "transaction." + string(to)
}
