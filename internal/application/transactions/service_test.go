package transactions

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"carbonease-backend/internal/domain"
	"carbonease-backend/internal/infrastructure/certificates"
	"carbonease-backend/internal/infrastructure/database"
	"carbonease-backend/internal/infrastructure/events"
	"carbonease-backend/internal/infrastructure/metrics"
	"carbonease-backend/internal/infrastructure/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.TransactionEvent) error {
	p.types = append(p.types, evt.Type)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type fakeRefunder struct {
	called bool
}

func (f *fakeRefunder) ProcessRefund(_ context.Context, _ *domain.User, id uuid.UUID, _ *float64, _ string) (*domain.Transaction, error) {
	f.called = true
	return &domain.Transaction{ID: id, Status: domain.TxRefunded}, nil
}

type fixture struct {
	svc    *Service
	store  *store.GormStore
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

	gen, err := certificates.NewNumberGenerator()
	require.NoError(t, err)
	pub := &recordingPublisher{}
	svc := NewService(s, metrics.New(), pub, gen)

	buyer := &domain.User{FirstName: "Ada", LastName: "Buyer", Email: "ada@example.com", PasswordHash: "x", Role: domain.RoleBuyer}
	seller := &domain.User{FirstName: "Sam", LastName: "Seller", Email: "sam@example.com", PasswordHash: "x", Role: domain.RoleSeller, Company: "Windco"}
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
	return &fixture{svc: svc, store: s, pub: pub, buyer: buyer, seller: seller, credit: credit}
}

func (f *fixture) buy(t *testing.T, qty int) *domain.Transaction {
	tx, err := f.svc.Create(context.Background(), f.buyer, CreateInput{CarbonCreditID: f.credit.ID, Quantity: qty})
	require.NoError(t, err)
	return tx
}

func (f *fixture) listing(t *testing.T) *domain.CreditListing {
	c, err := f.store.FindCredit(context.Background(), f.credit.ID)
	require.NoError(t, err)
	return c
}

func TestCreate_ComputesFinancials(t *testing.T) {
	f := setup(t)
	tx := f.buy(t, 100)

	assert.Equal(t, domain.TxPending, tx.Status)
	assert.Equal(t, 2550.00, tx.TotalAmount)
	assert.Equal(t, 63.75, tx.Fees.PlatformFee)
	assert.Equal(t, 73.95, tx.Fees.ProcessingFee)
	assert.Equal(t, f.seller.ID, tx.SellerID)
	assert.Regexp(t, `^TXN-[0-9A-F]{8}$`, tx.Reference)
	assert.Equal(t, []string{events.TransactionCreated}, f.pub.types)

	// creation does not touch the listing
	assert.Equal(t, 800, f.listing(t).AvailableCredits)
}

func TestCreate_Rejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.buyer, CreateInput{CarbonCreditID: f.credit.ID, Quantity: 900})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "insufficient credits", verr.Message)

	_, err = f.svc.Create(ctx, f.seller, CreateInput{CarbonCreditID: f.credit.ID, Quantity: 1})
	var nerr *domain.NotAuthorizedError
	assert.ErrorAs(t, err, &nerr)

	_, err = f.svc.Create(ctx, f.buyer, CreateInput{CarbonCreditID: uuid.New(), Quantity: 1})
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)

	own := &domain.User{ID: f.seller.ID, Role: domain.RoleBuyer}
	_, err = f.svc.Create(ctx, own, CreateInput{CarbonCreditID: f.credit.ID, Quantity: 1})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Cannot purchase your own carbon credits", verr.Message)

	_, total, err := f.store.ListTransactions(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestUpdateStatus_CompleteReservesAndIssuesCertificate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tx := f.buy(t, 100)

	_, err := f.svc.UpdateStatus(ctx, f.seller, tx.ID, domain.TxCompleted)
	var terr *domain.InvalidTransitionError
	require.ErrorAs(t, err, &terr)

	_, err = f.svc.UpdateStatus(ctx, f.seller, tx.ID, domain.TxProcessing)
	require.NoError(t, err)
	done, err := f.svc.UpdateStatus(ctx, f.seller, tx.ID, domain.TxCompleted)
	require.NoError(t, err)

	assert.Equal(t, domain.TxCompleted, done.Status)
	assert.Equal(t, domain.DeliveryDelivered, done.Delivery.Status)
	require.Len(t, done.Certificates, 1)
	assert.Contains(t, done.Certificates[0].CertificateNumber, "CERT-")
	require.NotNil(t, done.Certificates[0].ExpiryDate)

	c := f.listing(t)
	assert.Equal(t, 700, c.AvailableCredits)
	assert.Equal(t, 1, c.PurchaseCount)

	back, err := f.store.FindTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, back.CreditsReserved)
	assert.Len(t, back.Certificates, 1)
	assert.Equal(t, 2550.00, back.TotalAmount)
}

func TestUpdateStatus_RefundRestoresCredits(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tx := f.buy(t, 100)
	_, err := f.svc.UpdateStatus(ctx, f.buyer, tx.ID, domain.TxProcessing)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, f.buyer, tx.ID, domain.TxCompleted)
	require.NoError(t, err)

	refunded, err := f.svc.UpdateStatus(ctx, f.seller, tx.ID, domain.TxRefunded)
	require.NoError(t, err)
	assert.Equal(t, domain.TxRefunded, refunded.Status)

	c := f.listing(t)
	assert.Equal(t, 800, c.AvailableCredits)

	_, err = f.svc.UpdateStatus(ctx, f.seller, tx.ID, domain.TxProcessing)
	var terr *domain.InvalidTransitionError
	assert.ErrorAs(t, err, &terr)
}

func TestUpdateStatus_PaidRefundGoesThroughGateway(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	refunder := &fakeRefunder{}
	f.svc.Refunds = refunder
	tx := f.buy(t, 10)

	tx.Status = domain.TxCompleted
	tx.Payment.Status = domain.PaymentCompleted
	require.NoError(t, f.store.SaveTransaction(ctx, tx))

	got, err := f.svc.UpdateStatus(ctx, f.seller, tx.ID, domain.TxRefunded)
	require.NoError(t, err)
	assert.True(t, refunder.called)
	assert.Equal(t, domain.TxRefunded, got.Status)
}

func TestUpdateStatus_NonParticipantDenied(t *testing.T) {
	f := setup(t)
	tx := f.buy(t, 1)
	stranger := &domain.User{ID: uuid.New(), Role: domain.RoleBuyer}

	_, err := f.svc.UpdateStatus(context.Background(), stranger, tx.ID, domain.TxProcessing)
	var nerr *domain.NotAuthorizedError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "Not authorized to update this transaction", nerr.Error())
}

func TestCancel(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tx := f.buy(t, 5)

	got, err := f.svc.Cancel(ctx, f.buyer, tx.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, domain.TxCancelled, got.Status)
	assert.Equal(t, domain.PaymentCancelled, got.Payment.Status)
	assert.Equal(t, "changed my mind", got.Metadata.InternalNotes)

	_, err = f.svc.Cancel(ctx, f.buyer, tx.ID, "again")
	var serr *domain.InvalidStateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "Transaction cannot be cancelled in current status", serr.Error())
}

// reserved puts a transaction in processing with its credits already taken from the listing.
func (f *fixture) reserved(t *testing.T, qty int, payment domain.PaymentStatus) *domain.Transaction {
	ctx := context.Background()
	tx := f.buy(t, qty)
	ok, err := f.store.ReserveCredits(ctx, f.credit.ID, qty)
	require.NoError(t, err)
	require.True(t, ok)
	tx.Status = domain.TxProcessing
	tx.Payment.Status = payment
	tx.CreditsReserved = true
	require.NoError(t, f.store.SaveTransaction(ctx, tx))
	return tx
}

func TestUpdateStatus_CancelRefusesPaidTransaction(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	refunder := &fakeRefunder{}
	f.svc.Refunds = refunder
	tx := f.reserved(t, 100, domain.PaymentCompleted)

	_, err := f.svc.UpdateStatus(ctx, f.seller, tx.ID, domain.TxCancelled)
	var serr *domain.InvalidStateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "Paid transactions must be refunded instead of cancelled", serr.Error())
	assert.False(t, refunder.called)

	back, err := f.store.FindTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxProcessing, back.Status)
	assert.Equal(t, domain.PaymentCompleted, back.Payment.Status)
	assert.True(t, back.CreditsReserved)
	assert.Equal(t, 700, f.listing(t).AvailableCredits)
}

func TestUpdateStatus_CancelReleasesReservedCredits(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tx := f.reserved(t, 100, domain.PaymentProcessing)
	require.Equal(t, 700, f.listing(t).AvailableCredits)

	got, err := f.svc.UpdateStatus(ctx, f.buyer, tx.ID, domain.TxCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.TxCancelled, got.Status)
	assert.Equal(t, domain.PaymentCancelled, got.Payment.Status)

	back, err := f.store.FindTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.False(t, back.CreditsReserved)
	assert.Equal(t, 800, f.listing(t).AvailableCredits)
}

func TestUpdateStatus_PaidRefundWithoutGatewayRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tx := f.reserved(t, 10, domain.PaymentCompleted)
	tx.Status = domain.TxCompleted
	require.NoError(t, f.store.SaveTransaction(ctx, tx))

	_, err := f.svc.UpdateStatus(ctx, f.seller, tx.ID, domain.TxRefunded)
	var serr *domain.InvalidStateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 790, f.listing(t).AvailableCredits)
}

func TestGetAndList_ScopedByRole(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tx := f.buy(t, 1)
	f.buy(t, 2)

	admin := &domain.User{ID: uuid.New(), Role: domain.RoleAdmin}
	got, err := f.svc.Get(ctx, admin, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)

	_, err = f.svc.Get(ctx, &domain.User{ID: uuid.New(), Role: domain.RoleSeller}, tx.ID)
	var nerr *domain.NotAuthorizedError
	assert.ErrorAs(t, err, &nerr)

	_, total, err := f.svc.List(ctx, f.buyer, ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	_, total, err = f.svc.List(ctx, f.seller, ListQuery{Status: domain.TxPending})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	other := &domain.User{ID: uuid.New(), Role: domain.RoleBuyer}
	_, total, err = f.svc.List(ctx, other, ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	_, total, err = f.svc.List(ctx, admin, ListQuery{PaymentStatus: domain.PaymentPending})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	_, _, err = f.svc.List(ctx, admin, ListQuery{Status: "bogus"})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestReview(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tx := f.buy(t, 1)

	_, err := f.svc.Review(ctx, f.buyer, tx.ID, ReviewInput{Rating: 5})
	var serr *domain.InvalidStateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "Can only review completed transactions", serr.Error())

	_, err = f.svc.UpdateStatus(ctx, f.buyer, tx.ID, domain.TxProcessing)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, f.buyer, tx.ID, domain.TxCompleted)
	require.NoError(t, err)

	_, err = f.svc.Review(ctx, f.buyer, tx.ID, ReviewInput{Rating: 6})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	got, err := f.svc.Review(ctx, f.buyer, tx.ID, ReviewInput{Rating: 4, Comment: "Good"})
	require.NoError(t, err)
	assert.Equal(t, 4, got.Reviews.Buyer.Rating)

	_, err = f.svc.Review(ctx, f.seller, tx.ID, ReviewInput{Rating: 5})
	require.NoError(t, err)

	_, err = f.svc.Review(ctx, f.buyer, tx.ID, ReviewInput{Rating: 3})
	assert.ErrorAs(t, err, &serr)

	c := f.listing(t)
	assert.Equal(t, 1, c.TotalReviews)
	assert.InDelta(t, 4.0, c.AverageRating, 0.001)
}

func TestStats(t *testing.T) {
	f := setup(t)
	f.buy(t, 100)

	st, err := f.svc.Stats(context.Background(), f.buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalTransactions)
	assert.Equal(t, 2550.00, st.TotalVolume)
	assert.Equal(t, int64(1), st.PendingTransactions)
}

func TestCertificateDownloadAndPDF(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tx := f.buy(t, 3)
	_, err := f.svc.UpdateStatus(ctx, f.seller, tx.ID, domain.TxProcessing)
	require.NoError(t, err)
	done, err := f.svc.UpdateStatus(ctx, f.seller, tx.ID, domain.TxCompleted)
	require.NoError(t, err)
	cert := done.Certificates[0]

	link, err := f.svc.DownloadCertificate(ctx, f.buyer, tx.ID, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, cert.CertificateNumber, link.CertificateNumber)
	assert.Contains(t, link.DownloadURL, cert.ID.String())

	back, err := f.store.FindTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, back.Certificates[0].IsDownloaded)

	name, pdf, err := f.svc.CertificatePDF(ctx, f.buyer, tx.ID, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, cert.CertificateNumber+".pdf", name)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))

	_, err = f.svc.DownloadCertificate(ctx, f.buyer, tx.ID, uuid.New())
	var nf *domain.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "Certificate not found", nf.Error())
}
