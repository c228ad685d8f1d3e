package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"carbonease-backend/internal/application/emails"
	"carbonease-backend/internal/domain"
	"carbonease-backend/internal/infrastructure/events"
	"carbonease-backend/internal/infrastructure/gateway"
	"carbonease-backend/internal/infrastructure/metrics"
	"carbonease-backend/internal/infrastructure/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	ReasonOversold        = "insufficient credits at settlement"
	ReasonCancelledBefore = "transaction cancelled before settlement"
	initiatorGateway      = "gateway"
)

// Webhook outcomes, also used as the metrics label.
const (
	OutcomeApplied   = "applied"
	OutcomeNoop      = "noop"
	OutcomeDuplicate = "duplicate"
	OutcomeUnmatched = "unmatched"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// Service drives payments through the gateway and reconciles its webhooks
// with transactions and listing inventory.
type Service struct {
	Store     store.Store
	Gateway   gateway.Gateway
	Verifier  gateway.Verifier
	Emails    emails.Sender
	Events    events.Publisher
	Metrics   *metrics.Metrics
	ClientURL string
	Now       func() time.Time
}

func NewService(s store.Store, gw gateway.Gateway, v gateway.Verifier, sender emails.Sender, pub events.Publisher, m *metrics.Metrics, clientURL string) *Service {
	if sender == nil {
		sender = emails.Nop{}
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{
		Store:     s,
		Gateway:   gw,
		Verifier:  v,
		Emails:    sender,
		Events:    pub,
		Metrics:   m,
		ClientURL: strings.TrimRight(clientURL, "/"),
		Now:       time.Now,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CheckoutResult is returned to the buyer's browser to redirect to the hosted page.
type CheckoutResult struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CreateCheckoutSession opens a hosted checkout for a pending transaction owned by the buyer.
func (s *Service) CreateCheckoutSession(ctx context.Context, actor *domain.User, transactionID uuid.UUID) (*CheckoutResult, error) {
	t, err := s.Store.FindTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.BuyerID != actor.ID {
		return nil, &domain.NotAuthorizedError{Message: "Not authorized to pay for this transaction"}
	}
	if t.Status != domain.TxPending {
		return nil, &domain.InvalidStateError{Message: "Transaction is not in pending status"}
	}
	listing, err := s.Store.FindCredit(ctx, t.CarbonCreditID)
	if err != nil {
		return nil, err
	}
	buyer, err := s.Store.FindUserByID(ctx, t.BuyerID)
	if err != nil {
		return nil, err
	}
	customerID, err := s.ensureCustomer(ctx, buyer)
	if err != nil {
		return nil, err
	}

	meta := map[string]string{
		"transactionId": t.ID.String(),
		"userId":        actor.ID.String(),
	}
	sess, err := s.Gateway.CreateCheckoutSession(ctx, gateway.CheckoutRequest{
		CustomerID: customerID,
		Currency:   t.Currency,
		LineItems: []gateway.LineItem{
			{
				Name:        listing.Title + " - Carbon Credits",
				Description: fmt.Sprintf("Purchase of %d carbon credits from %s project", t.Quantity, listing.EnergyType),
				UnitAmount:  domain.ToMinorUnits(t.PricePerCredit),
				Quantity:    int64(t.Quantity),
			},
			{
				Name:        "Platform Fee",
				Description: "Carbonease platform fee",
				UnitAmount:  domain.ToMinorUnits(t.Fees.PlatformFee),
				Quantity:    1,
			},
		},
		SuccessURL: s.ClientURL + "/payment/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.ClientURL + "/payment/cancel?transaction_id=" + t.ID.String(),
		Metadata:   meta,
	})
	if err != nil {
		s.Metrics.RecordGatewayError("checkout")
		return nil, err
	}

	t.Payment.StripeSessionID = sess.ID
	if err := s.Store.SaveTransaction(ctx, t); err != nil {
		return nil, err
	}
	log.Info().Str("transaction", t.Reference).Str("session_id", sess.ID).Msg("checkout session created")
	return &CheckoutResult{SessionID: sess.ID, URL: sess.URL}, nil
}

func (s *Service) ensureCustomer(ctx context.Context, u *domain.User) (string, error) {
	if u.StripeCustomerID != "" {
		return u.StripeCustomerID, nil
	}
	id, err := s.Gateway.CreateCustomer(ctx, gateway.Customer{Email: u.Email, Name: u.FullName(), UserID: u.ID.String()})
	if err != nil {
		s.Metrics.RecordGatewayError("customer")
		return "", err
	}
	u.StripeCustomerID = id
	if err := s.Store.SaveUser(ctx, u); err != nil {
		return "", err
	}
	return id, nil
}

// WebhookResult reports what a delivered event did.
type WebhookResult struct {
	EventID string
	Type    string
	Outcome string
}

// HandleWebhookEvent verifies and reconciles one gateway event. Only an
// unverifiable or unparseable payload yields an error; reconciliation failures
// are logged and reported as OutcomeFailed so the gateway is still acknowledged.
func (s *Service) HandleWebhookEvent(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	ev, err := s.Verifier.ConstructEvent(payload, signature)
	if err != nil {
		var serr *domain.SignatureError
		if errors.As(err, &serr) {
			log.Warn().Err(err).Msg("webhook signature rejected")
			return nil, err
		}
		return nil, domain.NewValidationError("Invalid webhook payload")
	}

	res := &WebhookResult{EventID: ev.ID, Type: ev.Type}
	switch ev.Type {
	case gateway.EventCheckoutCompleted:
		res.Outcome, err = s.onCheckoutCompleted(ctx, ev)
	case gateway.EventPaymentSucceeded:
		res.Outcome, err = s.onPaymentSucceeded(ctx, ev)
	case gateway.EventPaymentFailed:
		res.Outcome, err = s.onPaymentFailed(ctx, ev)
	case gateway.EventChargeDisputeCreated:
		res.Outcome, err = s.onDisputeCreated(ctx, ev)
	default:
		res.Outcome = OutcomeIgnored
		log.Info().Str("event_id", ev.ID).Str("type", ev.Type).Msg("unhandled webhook event type")
	}
	if err != nil {
		res.Outcome = OutcomeFailed
		log.Error().Err(err).Str("event_id", ev.ID).Str("type", ev.Type).Msg("webhook reconciliation failed")
	}
	s.Metrics.RecordWebhook(ev.Type, res.Outcome)
	return res, nil
}

// reconcile records the event and applies fn to the transaction in one
// database transaction. A recorded event short-circuits as a duplicate.
func (s *Service) reconcile(ctx context.Context, ev *gateway.Event, id uuid.UUID, fn func(tx store.Store, t *domain.Transaction) (bool, error)) (string, *domain.Transaction, error) {
	outcome := OutcomeNoop
	var out *domain.Transaction
	err := s.Store.WithTx(ctx, func(tx store.Store) error {
		var t *domain.Transaction
		if id != uuid.Nil {
			found, err := tx.FindTransactionForUpdate(ctx, id)
			var nf *domain.NotFoundError
			switch {
			case errors.As(err, &nf):
			case err != nil:
				return err
			default:
				t = found
			}
		}
		rec := &domain.ProcessedEvent{EventID: ev.ID, Type: ev.Type, ProcessedAt: s.now()}
		if t != nil {
			rec.TransactionID = &t.ID
		}
		fresh, err := tx.MarkEventProcessed(ctx, rec)
		if err != nil {
			return err
		}
		if !fresh {
			outcome = OutcomeDuplicate
			return nil
		}
		if t == nil {
			outcome = OutcomeUnmatched
			return nil
		}
		changed, err := fn(tx, t)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		outcome = OutcomeApplied
		out = t
		return tx.SaveTransaction(ctx, t)
	})
	if err != nil {
		return OutcomeFailed, nil, err
	}
	if outcome == OutcomeUnmatched {
		log.Warn().Str("event_id", ev.ID).Str("type", ev.Type).Msg("webhook event matches no transaction")
	}
	return outcome, out, nil
}

// resolveByIntent finds the transaction for a payment intent: metadata first, then the stored intent id.
func (s *Service) resolveByIntent(ctx context.Context, metadata map[string]string, intentID string) uuid.UUID {
	if id, err := uuid.Parse(metadata["transactionId"]); err == nil {
		return id
	}
	if intentID == "" {
		return uuid.Nil
	}
	if t, err := s.Store.FindTransactionByPaymentIntent(ctx, intentID); err == nil {
		return t.ID
	}
	return uuid.Nil
}

func (s *Service) onCheckoutCompleted(ctx context.Context, ev *gateway.Event) (string, error) {
	if ev.Session == nil {
		return OutcomeIgnored, nil
	}
	sess := ev.Session
	id, err := uuid.Parse(sess.Metadata["transactionId"])
	if err != nil {
		if t, ferr := s.Store.FindTransactionBySession(ctx, sess.ID); ferr == nil {
			id = t.ID
		}
	}
	outcome, _, err := s.reconcile(ctx, ev, id, func(_ store.Store, t *domain.Transaction) (bool, error) {
		changed := t.ApplyCheckoutCompleted(sess.PaymentIntentID)
		if t.Payment.StripeSessionID == "" && sess.ID != "" {
			t.Payment.StripeSessionID = sess.ID
			changed = true
		}
		return changed, nil
	})
	return outcome, err
}

// onPaymentSucceeded settles the payment and reserves the credits. When the
// listing can no longer cover the quantity, or the buyer already cancelled,
// the payment is refunded at the gateway.
func (s *Service) onPaymentSucceeded(ctx context.Context, ev *gateway.Event) (string, error) {
	if ev.PaymentIntent == nil {
		return OutcomeIgnored, nil
	}
	pi := ev.PaymentIntent
	id := s.resolveByIntent(ctx, pi.Metadata, pi.ID)
	now := s.now()
	var refundReason string
	outcome, t, err := s.reconcile(ctx, ev, id, func(tx store.Store, t *domain.Transaction) (bool, error) {
		wasTerminal := t.Status.Terminal()
		if !t.ApplyPaymentSucceeded(pi.ID, now) {
			return false, nil
		}
		if wasTerminal {
			refundReason = ReasonCancelledBefore
			t.Metadata.AppendInternalNote("payment settled after " + string(t.Status))
			return true, nil
		}
		if !t.CreditsReserved {
			ok, err := tx.ReserveCredits(ctx, t.CarbonCreditID, t.Quantity)
			if err != nil {
				return false, err
			}
			if !ok {
				refundReason = ReasonOversold
				t.Metadata.AppendInternalNote(ReasonOversold)
				return true, nil
			}
			t.CreditsReserved = true
		}
		return true, nil
	})
	if err != nil || t == nil {
		return outcome, err
	}

	if refundReason != "" {
		s.autoRefund(ctx, t, refundReason)
		return outcome, nil
	}

	s.Metrics.RecordStatus(string(t.Status), initiatorGateway)
	if listing, err := s.Store.FindCredit(ctx, t.CarbonCreditID); err == nil {
		s.Metrics.RecordSettlement(listing.EnergyType, t.Currency, t.Quantity, t.TotalAmount, t.Fees.PlatformFee)
		s.sendConfirmation(ctx, t, listing)
	} else {
		log.Warn().Err(err).Str("transaction", t.Reference).Msg("listing lookup after settlement failed")
	}
	s.publish(ctx, events.TransactionPaid, t)
	log.Info().Str("transaction", t.Reference).Str("payment_intent", pi.ID).Msg("payment settled")
	return outcome, nil
}

// autoRefund returns a settled payment the marketplace cannot honour. A
// failed refund leaves the transaction processing with an internal note.
func (s *Service) autoRefund(ctx context.Context, t *domain.Transaction, reason string) {
	refund, err := s.Gateway.CreateRefund(ctx, t.Payment.StripePaymentIntentID, domain.ToMinorUnits(t.TotalAmount), map[string]string{
		"transactionId": t.ID.String(),
		"reason":        reason,
	})
	if err != nil {
		s.Metrics.RecordGatewayError("refund")
		log.Error().Err(err).Str("transaction", t.Reference).Str("reason", reason).Msg("automatic refund failed; manual refund required")
		note := "automatic refund failed: " + err.Error()
		if _, serr := s.updateLocked(ctx, t.ID, func(_ store.Store, locked *domain.Transaction) (bool, error) {
			locked.Metadata.AppendInternalNote(note)
			return true, nil
		}); serr != nil {
			log.Error().Err(serr).Str("transaction", t.Reference).Msg("saving refund failure note")
		}
		return
	}
	now := s.now()
	refunded, err := s.updateLocked(ctx, t.ID, func(tx store.Store, locked *domain.Transaction) (bool, error) {
		return s.applyRefund(ctx, tx, locked, locked.TotalAmount, reason, refund.ID, now)
	})
	if err != nil {
		log.Error().Err(err).Str("transaction", t.Reference).Str("refund_id", refund.ID).Msg("refund issued but transaction not updated")
		return
	}
	*t = *refunded
	s.Metrics.RecordStatus(string(domain.TxRefunded), initiatorGateway)
	s.publish(ctx, events.TransactionRefunded, t)
	log.Warn().Str("transaction", t.Reference).Str("refund_id", refund.ID).Str("reason", reason).Msg("payment refunded automatically")
	if buyer, err := s.Store.FindUserByID(ctx, t.BuyerID); err == nil {
		msg := fmt.Sprintf("Your payment for transaction %s was refunded: %s.", t.Reference, reason)
		if err := s.Emails.SendNotification(ctx, buyer.Email, "Payment Refunded - "+t.Reference, msg); err != nil {
			log.Warn().Err(err).Str("transaction", t.Reference).Msg("refund notification not sent")
		}
	}
}

// updateLocked reloads the transaction under a row lock, applies fn and saves
// when fn reports a change. It returns the reloaded transaction.
func (s *Service) updateLocked(ctx context.Context, id uuid.UUID, fn func(tx store.Store, t *domain.Transaction) (bool, error)) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := s.Store.WithTx(ctx, func(tx store.Store) error {
		t, err := tx.FindTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		out = t
		changed, err := fn(tx, t)
		if err != nil || !changed {
			return err
		}
		return tx.SaveTransaction(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// applyRefund records the refund and hands reserved credits back to the listing.
func (s *Service) applyRefund(ctx context.Context, tx store.Store, t *domain.Transaction, amount float64, reason, refundID string, now time.Time) (bool, error) {
	if !t.ApplyRefund(amount, reason, refundID, now) {
		return false, nil
	}
	if t.CreditsReserved {
		if err := tx.ReleaseCredits(ctx, t.CarbonCreditID, t.Quantity); err != nil {
			return false, err
		}
		t.CreditsReserved = false
	}
	return true, nil
}

func (s *Service) onPaymentFailed(ctx context.Context, ev *gateway.Event) (string, error) {
	if ev.PaymentIntent == nil {
		return OutcomeIgnored, nil
	}
	pi := ev.PaymentIntent
	id := s.resolveByIntent(ctx, pi.Metadata, pi.ID)
	outcome, t, err := s.reconcile(ctx, ev, id, func(_ store.Store, t *domain.Transaction) (bool, error) {
		return t.ApplyPaymentFailed(), nil
	})
	if err == nil && t != nil {
		s.Metrics.RecordStatus(string(domain.TxCancelled), initiatorGateway)
		s.publish(ctx, events.TransactionCancelled, t)
		log.Info().Str("transaction", t.Reference).Str("payment_intent", pi.ID).Msg("payment failed; transaction cancelled")
	}
	return outcome, err
}

func (s *Service) onDisputeCreated(ctx context.Context, ev *gateway.Event) (string, error) {
	if ev.Dispute == nil {
		return OutcomeIgnored, nil
	}
	d := ev.Dispute
	id := s.resolveByIntent(ctx, nil, d.PaymentIntentID)
	if id == uuid.Nil && d.PaymentIntentID != "" {
		pi, err := s.Gateway.GetPaymentIntent(ctx, d.PaymentIntentID)
		if err != nil {
			s.Metrics.RecordGatewayError("retrieve")
			return OutcomeFailed, err
		}
		id = s.resolveByIntent(ctx, pi.Metadata, "")
	}
	now := s.now()
	outcome, t, err := s.reconcile(ctx, ev, id, func(_ store.Store, t *domain.Transaction) (bool, error) {
		return t.ApplyDispute(d.Reason, now), nil
	})
	if err == nil && t != nil {
		s.publish(ctx, events.TransactionDisputed, t)
		log.Warn().Str("transaction", t.Reference).Str("dispute_id", d.ID).Str("reason", d.Reason).Msg("charge disputed")
	}
	return outcome, err
}

// ProcessRefund refunds a settled payment at the gateway and returns the
// credits to the listing. Only the seller or an admin may refund.
func (s *Service) ProcessRefund(ctx context.Context, actor *domain.User, transactionID uuid.UUID, amount *float64, reason string) (*domain.Transaction, error) {
	t, err := s.Store.FindTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.SellerID != actor.ID && actor.Role != domain.RoleAdmin {
		return nil, &domain.NotAuthorizedError{Message: "Not authorized to process refund"}
	}
	if t.Payment.Status != domain.PaymentCompleted {
		return nil, &domain.RefundNotEligibleError{PaymentStatus: t.Payment.Status}
	}
	refundAmount := t.TotalAmount
	if amount != nil {
		if *amount <= 0 || *amount > t.TotalAmount {
			return nil, domain.NewValidationError("Validation failed", domain.FieldError{Field: "amount", Message: "Refund amount must be greater than 0 and at most the transaction total"})
		}
		refundAmount = *amount
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Refund requested"
	}

	refund, err := s.Gateway.CreateRefund(ctx, t.Payment.StripePaymentIntentID, domain.ToMinorUnits(refundAmount), map[string]string{
		"transactionId": t.ID.String(),
		"reason":        reason,
	})
	if err != nil {
		s.Metrics.RecordGatewayError("refund")
		return nil, err
	}

	now := s.now()
	refunded, err := s.updateLocked(ctx, t.ID, func(tx store.Store, locked *domain.Transaction) (bool, error) {
		if locked.Payment.Status != domain.PaymentCompleted {
			return false, nil
		}
		return s.applyRefund(ctx, tx, locked, refundAmount, reason, refund.ID, now)
	})
	if err != nil {
		log.Error().Err(err).Str("transaction", t.Reference).Str("refund_id", refund.ID).Msg("refund issued but transaction not updated")
		return nil, err
	}
	t = refunded
	s.Metrics.RecordStatus(string(domain.TxRefunded), "user")
	s.publish(ctx, events.TransactionRefunded, t)
	log.Info().Str("transaction", t.Reference).Str("refund_id", refund.ID).Float64("amount", refundAmount).Msg("refund processed")
	return t, nil
}

// StatusSummary is the transaction side of a payment status lookup.
type StatusSummary struct {
	ID            uuid.UUID                `json:"id"`
	Reference     string                   `json:"transactionRef"`
	Status        domain.TransactionStatus `json:"status"`
	PaymentStatus domain.PaymentStatus     `json:"paymentStatus"`
	TotalAmount   float64                  `json:"totalAmount"`
	Currency      string                   `json:"currency"`
	Fees          domain.Fees              `json:"fees"`
}

type PaymentStatus struct {
	Transaction   StatusSummary          `json:"transaction"`
	PaymentIntent *gateway.PaymentIntent `json:"paymentIntent"`
}

// GetPaymentStatus reports the stored payment state plus the live gateway
// intent, which is nil when it cannot be retrieved.
func (s *Service) GetPaymentStatus(ctx context.Context, actor *domain.User, transactionID uuid.UUID) (*PaymentStatus, error) {
	t, err := s.Store.FindTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !t.IsParticipant(actor.ID) {
		return nil, &domain.NotAuthorizedError{Message: "Not authorized to view payment status"}
	}
	out := &PaymentStatus{Transaction: StatusSummary{
		ID:            t.ID,
		Reference:     t.Reference,
		Status:        t.Status,
		PaymentStatus: t.Payment.Status,
		TotalAmount:   t.TotalAmount,
		Currency:      t.Currency,
		Fees:          t.Fees,
	}}
	if t.Payment.StripePaymentIntentID != "" {
		pi, err := s.Gateway.GetPaymentIntent(ctx, t.Payment.StripePaymentIntentID)
		if err != nil {
			s.Metrics.RecordGatewayError("retrieve")
			log.Warn().Err(err).Str("transaction", t.Reference).Msg("payment intent lookup failed")
		} else {
			out.PaymentIntent = pi
		}
	}
	return out, nil
}

func (s *Service) sendConfirmation(ctx context.Context, t *domain.Transaction, listing *domain.CreditListing) {
	buyer, err := s.Store.FindUserByID(ctx, t.BuyerID)
	if err != nil {
		log.Warn().Err(err).Str("transaction", t.Reference).Msg("buyer lookup for confirmation failed")
		return
	}
	err = s.Emails.SendTransactionConfirmation(ctx, buyer.Email, buyer.FirstName, emails.TransactionSummary{
		Reference:      t.Reference,
		ProjectName:    listing.Title,
		Quantity:       t.Quantity,
		PricePerCredit: t.PricePerCredit,
		TotalAmount:    t.TotalAmount,
		Currency:       t.Currency,
		URL:            s.ClientURL + "/transactions/" + t.ID.String(),
	})
	if err != nil {
		log.Warn().Err(err).Str("transaction", t.Reference).Msg("confirmation email not sent")
	}
}

func (s *Service) publish(ctx context.Context, eventType string, t *domain.Transaction) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, events.NewTransactionEvent(eventType, t)); err != nil {
		log.Warn().Err(err).Str("transaction", t.Reference).Str("event", eventType).Msg("event not published")
	}
}
