package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"carbonease-backend/internal/application/emails"
	"carbonease-backend/internal/domain"
	"carbonease-backend/internal/infrastructure/database"
	"carbonease-backend/internal/infrastructure/events"
	"carbonease-backend/internal/infrastructure/gateway"
	"carbonease-backend/internal/infrastructure/metrics"
	"carbonease-backend/internal/infrastructure/store"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec_test_payments"

type fakeGateway struct {
	mu         sync.Mutex
	customers  int
	sessions   []gateway.CheckoutRequest
	refunds    []int64
	intents    map[string]*gateway.PaymentIntent
	refundErr  error
	sessionErr error
	onRefund   func()
}

func (g *fakeGateway) CreateCustomer(_ context.Context, c gateway.Customer) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customers++
	return fmt.Sprintf("cus_%d", g.customers), nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessionErr != nil {
		return nil, g.sessionErr
	}
	g.sessions = append(g.sessions, req)
	return &gateway.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.example/cs_test_1"}, nil
}

func (g *fakeGateway) GetPaymentIntent(_ context.Context, id string) (*gateway.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pi, ok := g.intents[id]; ok {
		return pi, nil
	}
	return nil, &domain.GatewayError{Op: "retrieve payment intent", Err: errors.New("no such payment_intent")}
}

func (g *fakeGateway) CreateRefund(_ context.Context, _ string, amount int64, _ map[string]string) (*gateway.Refund, error) {
	if g.onRefund != nil {
		g.onRefund()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, amount)
	return &gateway.Refund{ID: fmt.Sprintf("re_%d", len(g.refunds)), Status: "succeeded", Amount: amount}, nil
}

type recordingSender struct {
	emails.Nop
	confirmations []string
	notifications []string
}

func (r *recordingSender) SendTransactionConfirmation(_ context.Context, to, _ string, _ emails.TransactionSummary) error {
	r.confirmations = append(r.confirmations, to)
	return nil
}

func (r *recordingSender) SendNotification(_ context.Context, to, _, _ string) error {
	r.notifications = append(r.notifications, to)
	return nil
}

type recordingPublisher struct {
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.TransactionEvent) error {
	p.types = append(p.types, evt.Type)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type fixture struct {
	svc    *Service
	store  *store.GormStore
	gw     *fakeGateway
	mail   *recordingSender
	pub    *recordingPublisher
	buyer  *domain.User
	seller *domain.User
	credit *domain.CreditListing
}

func setup(t *testing.T) *fixture {
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	s := store.New(db)
	ctx := context.Background()

	buyer := &domain.User{FirstName: "Ada", LastName: "Buyer", Email: "ada@example.com", PasswordHash: "x", Role: domain.RoleBuyer}
	seller := &domain.User{FirstName: "Sam", LastName: "Seller", Email: "sam@example.com", PasswordHash: "x", Role: domain.RoleSeller}
	require.NoError(t, s.CreateUser(ctx, buyer))
	require.NoError(t, s.CreateUser(ctx, seller))

	now := time.Now()
	credit := &domain.CreditListing{
		SellerID:         seller.ID,
		Title:            "North Sea Wind",
		Description:      "Offshore wind farm credits",
		EnergyType:       "wind",
		Location:         domain.ProjectLocation{Country: "Denmark"},
		TotalCredits:     1000,
		AvailableCredits: 800,
		PricePerCredit:   25.50,
		Currency:         "USD",
		Certification: domain.Certification{
			Standard: "VCS", Certifier: "Verra", CertificateNumber: "VCS-001",
			IssueDate: now.AddDate(-1, 0, 0), ExpiryDate: now.AddDate(2, 0, 0),
		},
		ProjectDetails: domain.ProjectDetails{ProjectName: "Horns Rev", ProjectType: "renewable-energy", StartDate: now.AddDate(-3, 0, 0), Unit: "tonnes"},
		Status:         domain.ListingActive,
		IsVerified:     true,
	}
	require.NoError(t, s.CreateCredit(ctx, credit))

	gw := &fakeGateway{intents: map[string]*gateway.PaymentIntent{}}
	mail := &recordingSender{}
	pub := &recordingPublisher{}
	verifier := gateway.NewStripe("sk_test_unused", webhookSecret)
	svc := NewService(s, gw, verifier, mail, pub, metrics.New(), "http://localhost:3000/")
	return &fixture{svc: svc, store: s, gw: gw, mail: mail, pub: pub, buyer: buyer, seller: seller, credit: credit}
}

func (f *fixture) newTransaction(t *testing.T, qty int) *domain.Transaction {
	tx, err := domain.NewTransaction(f.credit, f.buyer.ID, qty)
	require.NoError(t, err)
	require.NoError(t, f.store.CreateTransaction(context.Background(), tx))
	return tx
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) (*domain.Transaction, *domain.CreditListing) {
	ctx := context.Background()
	tx, err := f.store.FindTransaction(ctx, id)
	require.NoError(t, err)
	c, err := f.store.FindCredit(ctx, f.credit.ID)
	require.NoError(t, err)
	return tx, c
}

func signPayload(payload []byte, ts time.Time) string {
	unix := fmt.Sprintf("%d", ts.Unix())
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(unix + "." + string(payload)))
	return fmt.Sprintf("t=%s,v1=%s", unix, hex.EncodeToString(mac.Sum(nil)))
}

func eventBody(t *testing.T, id, typ string, object map[string]interface{}) []byte {
	b, err := json.Marshal(map[string]interface{}{
		"id":     id,
		"object": "event",
		"type":   typ,
		"data":   map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) deliver(t *testing.T, body []byte) *WebhookResult {
	res, err := f.svc.HandleWebhookEvent(context.Background(), body, signPayload(body, time.Now()))
	require.NoError(t, err)
	return res
}

func intentEvent(t *testing.T, eventID, typ, intentID string, tx *domain.Transaction) []byte {
	return eventBody(t, eventID, typ, map[string]interface{}{
		"id":       intentID,
		"object":   "payment_intent",
		"amount":   domain.ToMinorUnits(tx.TotalAmount),
		"currency": "usd",
		"status":   "succeeded",
		"metadata": map[string]string{"transactionId": tx.ID.String()},
	})
}

func TestCreateCheckoutSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tx := f.newTransaction(t, 100)

	_, err := f.svc.CreateCheckoutSession(ctx, f.seller, tx.ID)
	var nerr *domain.NotAuthorizedError
	require.ErrorAs(t, err, &nerr)

	res, err := f.svc.CreateCheckoutSession(ctx, f.buyer, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", res.SessionID)

	require.Len(t, f.gw.sessions, 1)
	req := f.gw.sessions[0]
	require.Len(t, req.LineItems, 2)
	assert.Equal(t, int64(2550), req.LineItems[0].UnitAmount)
	assert.Equal(t, int64(100), req.LineItems[0].Quantity)
	assert.Equal(t, int64(6375), req.LineItems[1].UnitAmount)
	assert.Equal(t, int64(1), req.LineItems[1].Quantity)
	assert.Equal(t, tx.ID.String(), req.Metadata["transactionId"])
	assert.Equal(t, f.buyer.ID.String(), req.Metadata["userId"])
	assert.Equal(t, "cus_1", req.CustomerID)
	assert.Equal(t, "http://localhost:3000/payment/success?session_id={CHECKOUT_SESSION_ID}", req.SuccessURL)

	back, _ := f.reload(t, tx.ID)
	assert.Equal(t, "cs_test_1", back.Payment.StripeSessionID)

	// the customer is reused on the next checkout
	_, err = f.svc.CreateCheckoutSession(ctx, f.buyer, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.gw.customers)
}

func TestCreateCheckoutSession_StateAndGatewayErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tx := f.newTransaction(t, 1)

	f.gw.sessionErr = &domain.GatewayError{Op: "create checkout session", Err: errors.New("card_declined")}
	_, err := f.svc.CreateCheckoutSession(ctx, f.buyer, tx.ID)
	var gerr *domain.GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.svc.Metrics.GatewayErrors.WithLabelValues("checkout")))

	tx.Status = domain.TxCancelled
	require.NoError(t, f.store.SaveTransaction(ctx, tx))
	_, err = f.svc.CreateCheckoutSession(ctx, f.buyer, tx.ID)
	var serr *domain.InvalidStateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "Transaction is not in pending status", serr.Error())
}

func TestWebhook_SettleReplayAndRefund(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tx := f.newTransaction(t, 100)
	assert.Equal(t, 2550.00, tx.TotalAmount)
	assert.Equal(t, 63.75, tx.Fees.PlatformFee)
	assert.Equal(t, 73.95, tx.Fees.ProcessingFee)

	checkout := eventBody(t, "evt_checkout", gateway.EventCheckoutCompleted, map[string]interface{}{
		"id":             "cs_test_1",
		"object":         "checkout.session",
		"payment_intent": "pi_1",
		"metadata":       map[string]string{"transactionId": tx.ID.String()},
	})
	assert.Equal(t, OutcomeApplied, f.deliver(t, checkout).Outcome)
	back, _ := f.reload(t, tx.ID)
	assert.Equal(t, domain.PaymentProcessing, back.Payment.Status)
	assert.Equal(t, "pi_1", back.Payment.StripePaymentIntentID)

	succeeded := intentEvent(t, "evt_paid", gateway.EventPaymentSucceeded, "pi_1", tx)
	assert.Equal(t, OutcomeApplied, f.deliver(t, succeeded).Outcome)

	back, credit := f.reload(t, tx.ID)
	assert.Equal(t, domain.PaymentCompleted, back.Payment.Status)
	assert.Equal(t, domain.TxProcessing, back.Status)
	assert.NotNil(t, back.Payment.PaidAt)
	assert.True(t, back.CreditsReserved)
	assert.Equal(t, 700, credit.AvailableCredits)
	assert.Equal(t, 1, credit.PurchaseCount)
	assert.Equal(t, []string{"ada@example.com"}, f.mail.confirmations)
	assert.Contains(t, f.pub.types, events.TransactionPaid)

	// same event redelivered
	assert.Equal(t, OutcomeDuplicate, f.deliver(t, succeeded).Outcome)
	// a different event for an already settled payment
	again := intentEvent(t, "evt_paid_again", gateway.EventPaymentSucceeded, "pi_1", tx)
	assert.Equal(t, OutcomeNoop, f.deliver(t, again).Outcome)
	_, credit = f.reload(t, tx.ID)
	assert.Equal(t, 700, credit.AvailableCredits)
	assert.Equal(t, 1, credit.PurchaseCount)

	refunded, err := f.svc.ProcessRefund(ctx, f.seller, tx.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, domain.TxRefunded, refunded.Status)
	assert.Equal(t, domain.PaymentRefunded, refunded.Payment.Status)
	assert.Equal(t, 2550.00, refunded.Payment.RefundAmount)
	assert.Equal(t, "Refund requested", refunded.Payment.RefundReason)
	assert.Equal(t, []int64{255000}, f.gw.refunds)

	back, credit = f.reload(t, tx.ID)
	assert.Equal(t, 800, credit.AvailableCredits)
	assert.False(t, back.CreditsReserved)
	assert.Equal(t, "re_1", back.Payment.RefundID)

	_, err = f.svc.ProcessRefund(ctx, f.seller, tx.ID, nil, "")
	var rerr *domain.RefundNotEligibleError
	assert.ErrorAs(t, err, &rerr)
}

func TestWebhook_OversellRefundsAutomatically(t *testing.T) {
	f := setup(t)
	first := f.newTransaction(t, 500)
	second := f.newTransaction(t, 500)

	assert.Equal(t, OutcomeApplied, f.deliver(t, intentEvent(t, "evt_1", gateway.EventPaymentSucceeded, "pi_a", first)).Outcome)
	assert.Equal(t, OutcomeApplied, f.deliver(t, intentEvent(t, "evt_2", gateway.EventPaymentSucceeded, "pi_b", second)).Outcome)

	won, credit := f.reload(t, first.ID)
	assert.Equal(t, domain.TxProcessing, won.Status)
	assert.Equal(t, 300, credit.AvailableCredits)

	lost, _ := f.reload(t, second.ID)
	assert.Equal(t, domain.TxRefunded, lost.Status)
	assert.Equal(t, domain.PaymentRefunded, lost.Payment.Status)
	assert.Equal(t, ReasonOversold, lost.Payment.RefundReason)
	assert.False(t, lost.CreditsReserved)
	assert.Contains(t, lost.Metadata.InternalNotes, ReasonOversold)
	assert.Equal(t, []int64{domain.ToMinorUnits(second.TotalAmount)}, f.gw.refunds)
	assert.Equal(t, []string{"ada@example.com"}, f.mail.notifications)
}

func TestWebhook_OversellRefundFailureLeavesProcessing(t *testing.T) {
	f := setup(t)
	f.gw.refundErr = &domain.GatewayError{Op: "create refund", Err: errors.New("api down")}
	tx := f.newTransaction(t, 900)

	assert.Equal(t, OutcomeApplied, f.deliver(t, intentEvent(t, "evt_1", gateway.EventPaymentSucceeded, "pi_a", tx)).Outcome)

	back, credit := f.reload(t, tx.ID)
	assert.Equal(t, domain.TxProcessing, back.Status)
	assert.Equal(t, domain.PaymentCompleted, back.Payment.Status)
	assert.Contains(t, back.Metadata.InternalNotes, "automatic refund failed")
	assert.Equal(t, 800, credit.AvailableCredits)
}

func TestWebhook_PaymentFailedCancels(t *testing.T) {
	f := setup(t)
	tx := f.newTransaction(t, 10)

	body := intentEvent(t, "evt_fail", gateway.EventPaymentFailed, "pi_x", tx)
	assert.Equal(t, OutcomeApplied, f.deliver(t, body).Outcome)

	back, credit := f.reload(t, tx.ID)
	assert.Equal(t, domain.TxCancelled, back.Status)
	assert.Equal(t, domain.PaymentFailed, back.Payment.Status)
	assert.Equal(t, 800, credit.AvailableCredits)
	assert.Contains(t, f.pub.types, events.TransactionCancelled)
}

func TestWebhook_DisputeFallsBackToGatewayMetadata(t *testing.T) {
	f := setup(t)
	tx := f.newTransaction(t, 10)
	f.gw.intents["pi_disputed"] = &gateway.PaymentIntent{ID: "pi_disputed", Metadata: map[string]string{"transactionId": tx.ID.String()}}

	body := eventBody(t, "evt_dp", gateway.EventChargeDisputeCreated, map[string]interface{}{
		"id":             "dp_1",
		"object":         "dispute",
		"reason":         "fraudulent",
		"payment_intent": "pi_disputed",
	})
	assert.Equal(t, OutcomeApplied, f.deliver(t, body).Outcome)

	back, _ := f.reload(t, tx.ID)
	assert.True(t, back.Dispute.IsDisputed)
	assert.Equal(t, "fraudulent", back.Dispute.Reason)
	assert.NotNil(t, back.Dispute.DisputeDate)
}

func TestWebhook_UnknownAndUnmatchedEvents(t *testing.T) {
	f := setup(t)

	body := eventBody(t, "evt_other", "customer.created", map[string]interface{}{"id": "cus_1", "object": "customer"})
	assert.Equal(t, OutcomeIgnored, f.deliver(t, body).Outcome)

	orphan := eventBody(t, "evt_orphan", gateway.EventPaymentSucceeded, map[string]interface{}{
		"id":     "pi_unknown",
		"object": "payment_intent",
		"status": "succeeded",
	})
	assert.Equal(t, OutcomeUnmatched, f.deliver(t, orphan).Outcome)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.svc.Metrics.WebhookEvents.WithLabelValues(gateway.EventPaymentSucceeded, OutcomeUnmatched)))
}

func TestWebhook_BadSignature(t *testing.T) {
	f := setup(t)
	tx := f.newTransaction(t, 10)
	body := intentEvent(t, "evt_1", gateway.EventPaymentSucceeded, "pi_1", tx)

	_, err := f.svc.HandleWebhookEvent(context.Background(), body, "t=1,v1=deadbeef")
	var serr *domain.SignatureError
	require.ErrorAs(t, err, &serr)

	back, credit := f.reload(t, tx.ID)
	assert.Equal(t, domain.PaymentPending, back.Payment.Status)
	assert.Equal(t, 800, credit.AvailableCredits)
}

func TestProcessRefund_Rules(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tx := f.newTransaction(t, 10)

	_, err := f.svc.ProcessRefund(ctx, f.seller, tx.ID, nil, "")
	var rerr *domain.RefundNotEligibleError
	require.ErrorAs(t, err, &rerr)

	f.deliver(t, intentEvent(t, "evt_1", gateway.EventPaymentSucceeded, "pi_1", tx))

	_, err = f.svc.ProcessRefund(ctx, f.buyer, tx.ID, nil, "")
	var nerr *domain.NotAuthorizedError
	require.ErrorAs(t, err, &nerr)

	tooMuch := 10000.0
	_, err = f.svc.ProcessRefund(ctx, f.seller, tx.ID, &tooMuch, "")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	f.gw.refundErr = &domain.GatewayError{Op: "create refund", Err: errors.New("api down")}
	_, err = f.svc.ProcessRefund(ctx, f.seller, tx.ID, nil, "")
	var gerr *domain.GatewayError
	require.ErrorAs(t, err, &gerr)
	_, credit := f.reload(t, tx.ID)
	assert.Equal(t, 790, credit.AvailableCredits)

	f.gw.refundErr = nil
	partial := 100.0
	admin := &domain.User{ID: uuid.New(), Role: domain.RoleAdmin}
	got, err := f.svc.ProcessRefund(ctx, admin, tx.ID, &partial, "Damaged registry transfer")
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Payment.RefundAmount)
	assert.Equal(t, "Damaged registry transfer", got.Payment.RefundReason)
	_, credit = f.reload(t, tx.ID)
	assert.Equal(t, 800, credit.AvailableCredits)
}

// A refund recorded by another request while the gateway call is in flight
// must not be applied twice or release the credits twice.
func TestProcessRefund_ConcurrentRefundAppliedOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tx := f.newTransaction(t, 100)
	f.deliver(t, intentEvent(t, "evt_1", gateway.EventPaymentSucceeded, "pi_1", tx))
	_, credit := f.reload(t, tx.ID)
	require.Equal(t, 700, credit.AvailableCredits)

	f.gw.onRefund = func() {
		f.gw.onRefund = nil
		err := f.store.WithTx(ctx, func(st store.Store) error {
			other, err := st.FindTransactionForUpdate(ctx, tx.ID)
			if err != nil {
				return err
			}
			other.ApplyRefund(other.TotalAmount, "Refunded by admin", "re_other", time.Now())
			if err := st.ReleaseCredits(ctx, other.CarbonCreditID, other.Quantity); err != nil {
				return err
			}
			other.CreditsReserved = false
			return st.SaveTransaction(ctx, other)
		})
		require.NoError(t, err)
	}

	got, err := f.svc.ProcessRefund(ctx, f.seller, tx.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "re_other", got.Payment.RefundID)

	back, credit := f.reload(t, tx.ID)
	assert.Equal(t, "re_other", back.Payment.RefundID)
	assert.Equal(t, "Refunded by admin", back.Payment.RefundReason)
	assert.Equal(t, 800, credit.AvailableCredits)
}

func TestGetPaymentStatus(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tx := f.newTransaction(t, 10)

	st, err := f.svc.GetPaymentStatus(ctx, f.seller, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, st.Transaction.PaymentStatus)
	assert.Nil(t, st.PaymentIntent)

	tx.Payment.StripePaymentIntentID = "pi_live"
	require.NoError(t, f.store.SaveTransaction(ctx, tx))
	f.gw.intents["pi_live"] = &gateway.PaymentIntent{ID: "pi_live", Status: "processing", Amount: 26903}

	st, err = f.svc.GetPaymentStatus(ctx, f.buyer, tx.ID)
	require.NoError(t, err)
	require.NotNil(t, st.PaymentIntent)
	assert.Equal(t, "processing", st.PaymentIntent.Status)

	_, err = f.svc.GetPaymentStatus(ctx, &domain.User{ID: uuid.New(), Role: domain.RoleBuyer}, tx.ID)
	var nerr *domain.NotAuthorizedError
	assert.ErrorAs(t, err, &nerr)
}
