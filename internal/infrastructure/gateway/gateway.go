package gateway

import (
	"context"
)

// LineItem is one priced row on a hosted checkout page. Amounts are in minor units.
type LineItem struct {
	Name        string
	Description string
	UnitAmount  int64
	Quantity    int64
}

type CheckoutRequest struct {
	CustomerID string
	Currency   string
	LineItems  []LineItem
	SuccessURL string
	CancelURL  string
	// Metadata is attached to both the session and its payment intent.
	Metadata map[string]string
}

type CheckoutSession struct {
	ID              string            `json:"id"`
	URL             string            `json:"url"`
	PaymentIntentID string            `json:"paymentIntentId,omitempty"`
	Metadata        map[string]string `json:"-"`
}

type PaymentIntent struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amountReceived"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

type Dispute struct {
	ID              string
	PaymentIntentID string
	Reason          string
}

type Customer struct {
	Email  string
	Name   string
	UserID string
}

// Event is a verified webhook event with its object decoded by type.
type Event struct {
	ID            string
	Type          string
	Session       *CheckoutSession
	PaymentIntent *PaymentIntent
	Dispute       *Dispute
}

const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventPaymentSucceeded     = "payment_intent.succeeded"
	EventPaymentFailed        = "payment_intent.payment_failed"
	EventChargeDisputeCreated = "charge.dispute.created"
)

// Gateway is the payment provider surface the marketplace calls out to.
type Gateway interface {
	CreateCustomer(ctx context.Context, c Customer) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CreateRefund(ctx context.Context, paymentIntentID string, amount int64, metadata map[string]string) (*Refund, error)
}

// Verifier authenticates and decodes webhook payloads.
type Verifier interface {
	ConstructEvent(payload []byte, signatureHeader string) (*Event, error)
}
