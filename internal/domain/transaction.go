package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TransactionStatus string

const (
	TxPending    TransactionStatus = "pending"
	TxProcessing TransactionStatus = "processing"
	TxCompleted  TransactionStatus = "completed"
	TxCancelled  TransactionStatus = "cancelled"
	TxRefunded   TransactionStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentCancelled  PaymentStatus = "cancelled"
)

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryProcessing DeliveryStatus = "processing"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryFailed     DeliveryStatus = "failed"
)

var (
	PaymentMethods     = []string{"stripe", "bank_transfer", "crypto", "other"}
	DeliveryMethods    = []string{"digital", "certificate", "registry_transfer"}
	TransactionSources = []string{"marketplace", "direct", "api", "admin"}
)

const (
	PlatformFeeRate   = 0.025
	ProcessingFeeRate = 0.029
)

type PaymentInfo struct {
	Method                string        `gorm:"column:method;type:varchar(20);default:'stripe'" json:"method"`
	Status                PaymentStatus `gorm:"column:status;type:varchar(20);default:'pending'" json:"status"`
	StripeSessionID       string        `gorm:"column:stripe_session_id;index" json:"stripeSessionId,omitempty"`
	StripePaymentIntentID string        `gorm:"column:stripe_payment_intent_id;index" json:"stripePaymentIntentId,omitempty"`
	PaidAt                *time.Time    `gorm:"column:paid_at" json:"paidAt,omitempty"`
	RefundedAt            *time.Time    `gorm:"column:refunded_at" json:"refundedAt,omitempty"`
	RefundAmount          float64       `gorm:"column:refund_amount" json:"refundAmount,omitempty"`
	RefundReason          string        `gorm:"column:refund_reason" json:"refundReason,omitempty"`
	RefundID              string        `gorm:"column:refund_id" json:"refundId,omitempty"`
}

type DeliveryInfo struct {
	Method         string         `gorm:"column:method;type:varchar(20);default:'digital'" json:"method"`
	Status         DeliveryStatus `gorm:"column:status;type:varchar(20);default:'pending'" json:"status"`
	DeliveredAt    *time.Time     `gorm:"column:delivered_at" json:"deliveredAt,omitempty"`
	Notes          string         `gorm:"column:notes" json:"notes,omitempty"`
	TrackingNumber string         `gorm:"column:tracking_number" json:"trackingNumber,omitempty"`
}

type Fees struct {
	PlatformFee   float64 `gorm:"column:platform" json:"platformFee"`
	ProcessingFee float64 `gorm:"column:processing" json:"processingFee"`
	TotalFees     float64 `gorm:"column:total" json:"totalFees"`
}

type DisputeInfo struct {
	IsDisputed  bool       `gorm:"column:is_disputed;default:false" json:"isDisputed"`
	Reason      string     `gorm:"column:reason" json:"reason,omitempty"`
	DisputeDate *time.Time `gorm:"column:date" json:"disputeDate,omitempty"`
	Resolution  string     `gorm:"column:resolution" json:"resolution,omitempty"`
	ResolvedAt  *time.Time `gorm:"column:resolved_at" json:"resolvedAt,omitempty"`
	ResolvedBy  *uuid.UUID `gorm:"column:resolved_by;type:uuid" json:"resolvedBy,omitempty"`
}

type Review struct {
	Rating     int        `gorm:"column:rating" json:"rating,omitempty"`
	Comment    string     `gorm:"column:comment" json:"comment,omitempty"`
	ReviewedAt *time.Time `gorm:"column:at" json:"createdAt,omitempty"`
}

func (r Review) Submitted() bool { return r.Rating > 0 }

type Reviews struct {
	Buyer  Review `gorm:"embedded;embeddedPrefix:buyer_review_" json:"buyer"`
	Seller Review `gorm:"embedded;embeddedPrefix:seller_review_" json:"seller"`
}

type TransactionMetadata struct {
	BuyerNotes    string `gorm:"column:buyer_notes" json:"buyerNotes,omitempty"`
	SellerNotes   string `gorm:"column:seller_notes" json:"sellerNotes,omitempty"`
	InternalNotes string `gorm:"column:internal_notes" json:"internalNotes,omitempty"`
	Source        string `gorm:"column:source;type:varchar(20);default:'marketplace'" json:"source"`
}

// AppendInternalNote adds a line to the internal notes.
func (m *TransactionMetadata) AppendInternalNote(note string) {
	if m.InternalNotes == "" {
		m.InternalNotes = note
		return
	}
	m.InternalNotes = m.InternalNotes + "\n" + note
}

// TransactionCertificate is issued to the buyer when a transaction completes.
type TransactionCertificate struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"transactionId"`
	CertificateNumber string     `gorm:"uniqueIndex;not null" json:"certificateNumber"`
	IssueDate         time.Time  `gorm:"not null" json:"issueDate"`
	ExpiryDate        *time.Time `json:"expiryDate,omitempty"`
	DownloadURL       string     `json:"downloadUrl"`
	IsDownloaded      bool       `gorm:"default:false" json:"isDownloaded"`
	DownloadedAt      *time.Time `json:"downloadedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

func (TransactionCertificate) TableName() string {
	return "transaction_certificates"
}

func (c *TransactionCertificate) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Transaction is one purchase of credits from a listing.
type Transaction struct {
	ID              uuid.UUID                `gorm:"type:uuid;primaryKey" json:"id"`
	BuyerID         uuid.UUID                `gorm:"type:uuid;not null;index:idx_tx_buyer_status,priority:1" json:"buyerId"`
	SellerID        uuid.UUID                `gorm:"type:uuid;not null;index:idx_tx_seller_status,priority:1" json:"sellerId"`
	CarbonCreditID  uuid.UUID                `gorm:"type:uuid;not null;index" json:"carbonCreditId"`
	Quantity        int                      `gorm:"not null" json:"quantity"`
	PricePerCredit  float64                  `gorm:"not null" json:"pricePerCredit"`
	TotalAmount     float64                  `gorm:"not null" json:"totalAmount"`
	NetAmount       float64                  `gorm:"not null;default:0" json:"netAmount"`
	Currency        string                   `gorm:"type:varchar(3);default:'USD';not null" json:"currency"`
	Payment         PaymentInfo              `gorm:"embedded;embeddedPrefix:payment_" json:"paymentInfo"`
	Status          TransactionStatus        `gorm:"type:varchar(20);default:'pending';not null;index:idx_tx_buyer_status,priority:2;index:idx_tx_seller_status,priority:2;index:idx_tx_status_created,priority:1" json:"status"`
	Delivery        DeliveryInfo             `gorm:"embedded;embeddedPrefix:delivery_" json:"deliveryInfo"`
	Certificates    []TransactionCertificate `gorm:"foreignKey:TransactionID" json:"certificates"`
	Fees            Fees                     `gorm:"embedded;embeddedPrefix:fee_" json:"fees"`
	Dispute         DisputeInfo              `gorm:"embedded;embeddedPrefix:dispute_" json:"dispute"`
	Reviews         Reviews                  `gorm:"embedded" json:"reviews"`
	Metadata        TransactionMetadata      `gorm:"embedded;embeddedPrefix:meta_" json:"metadata"`
	CreditsReserved bool                     `gorm:"default:false;not null" json:"-"`
	Reference       string                   `gorm:"-" json:"transactionRef"`
	CreatedAt       time.Time                `gorm:"index:idx_tx_status_created,priority:2" json:"createdAt"`
	UpdatedAt       time.Time                `json:"updatedAt"`
}

func (Transaction) TableName() string {
	return "transactions"
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.Reference = ReferenceFor(t.ID)
	return nil
}

// BeforeSave derives totals and fees from quantity and unit price; they are never written independently.
func (t *Transaction) BeforeSave(tx *gorm.DB) error {
	RecomputeFinancials(t)
	return nil
}

func (t *Transaction) AfterFind(tx *gorm.DB) error {
	t.Reference = ReferenceFor(t.ID)
	return nil
}

// IsParticipant reports whether userID is the buyer or the seller.
func (t *Transaction) IsParticipant(userID uuid.UUID) bool {
	return t.BuyerID == userID || t.SellerID == userID
}

// ReferenceFor renders the human-facing transaction reference, TXN- plus the last 8 id characters.
func ReferenceFor(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	s := strings.ReplaceAll(id.String(), "-", "")
	return "TXN-" + strings.ToUpper(s[len(s)-8:])
}

// Round2 rounds to cents.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ToMinorUnits converts a decimal amount to the gateway's integer minor units.
func ToMinorUnits(v float64) int64 {
	return int64(math.Round(v * 100))
}

// RecomputeFinancials sets totalAmount, fees and netAmount from quantity and pricePerCredit.
func RecomputeFinancials(t *Transaction) {
	t.TotalAmount = Round2(float64(t.Quantity) * t.PricePerCredit)
	t.Fees.PlatformFee = Round2(t.TotalAmount * PlatformFeeRate)
	t.Fees.ProcessingFee = Round2(t.TotalAmount * ProcessingFeeRate)
	t.Fees.TotalFees = Round2(t.Fees.PlatformFee + t.Fees.ProcessingFee)
	t.NetAmount = Round2(t.TotalAmount - t.Fees.TotalFees)
}

// NewTransaction builds a pending transaction for qty credits of listing at its current price.
func NewTransaction(listing *CreditListing, buyerID uuid.UUID, qty int) (*Transaction, error) {
	t := &Transaction{
		BuyerID:        buyerID,
		SellerID:       listing.SellerID,
		CarbonCreditID: listing.ID,
		Quantity:       qty,
		PricePerCredit: listing.PricePerCredit,
		Currency:       listing.Currency,
		Status:         TxPending,
		Payment:        PaymentInfo{Method: "stripe", Status: PaymentPending},
		Delivery:       DeliveryInfo{Method: "digital", Status: DeliveryPending},
		Metadata:       TransactionMetadata{Source: "marketplace"},
	}
	if t.Currency == "" {
		t.Currency = "USD"
	}
	if err := ValidateNew(t); err != nil {
		return nil, err
	}
	RecomputeFinancials(t)
	return t, nil
}

// ValidateNew checks the fields a transaction must carry from the moment it exists.
func ValidateNew(t *Transaction) error {
	v := NewValidationError("Validation failed")
	if t.Quantity < 1 {
		v.Add("quantity", "Quantity must be at least 1")
	}
	if t.PricePerCredit < MinPricePerCredit {
		v.Add("pricePerCredit", "Price per credit must be at least 0.01")
	}
	if t.BuyerID == uuid.Nil {
		v.Add("buyer", "Buyer is required")
	}
	if t.SellerID == uuid.Nil {
		v.Add("seller", "Seller is required")
	}
	if t.Payment.Method != "" && !oneOf(t.Payment.Method, PaymentMethods) {
		v.Add("paymentInfo.method", "Invalid payment method")
	}
	if t.Delivery.Method != "" && !oneOf(t.Delivery.Method, DeliveryMethods) {
		v.Add("deliveryInfo.method", "Invalid delivery method")
	}
	if t.Metadata.Source != "" && !oneOf(t.Metadata.Source, TransactionSources) {
		v.Add("metadata.source", "Invalid source")
	}
	return v.OrNil()
}

// ValidateReview checks a 1..5 rating and a bounded comment.
func ValidateReview(rating int, comment string) error {
	v := NewValidationError("Validation failed")
	if rating < 1 || rating > 5 {
		v.Add("rating", "Rating must be between 1 and 5")
	}
	if len(comment) > 500 {
		v.Add("comment", "Comment cannot exceed 500 characters")
	}
	return v.OrNil()
}

func (t *Transaction) String() string {
	return fmt.Sprintf("%s(%s)", t.Reference, t.Status)
}
