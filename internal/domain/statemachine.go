package domain

import "time"

var allowedTransitions = map[TransactionStatus][]TransactionStatus{
	TxPending:    {TxProcessing, TxCancelled},
	TxProcessing: {TxCompleted, TxCancelled},
	TxCompleted:  {TxRefunded},
	TxCancelled:  nil,
	TxRefunded:   nil,
}

// AllowedTransitions lists the user-requestable targets from a status.
func AllowedTransitions(from TransactionStatus) []TransactionStatus {
	return allowedTransitions[from]
}

func CanTransition(from, to TransactionStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s TransactionStatus) Terminal() bool {
	return s == TxCancelled || s == TxRefunded
}

func (s TransactionStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// RequestTransition applies a user-initiated status change. Side effects
// (credit bookkeeping, certificates) belong to the caller.
func (t *Transaction) RequestTransition(to TransactionStatus) error {
	if !CanTransition(t.Status, to) {
		return &InvalidTransitionError{From: t.Status, To: to}
	}
	t.Status = to
	return nil
}

// MarkDelivered records digital delivery on completion.
func (t *Transaction) MarkDelivered(now time.Time) {
	t.Delivery.Status = DeliveryDelivered
	t.Delivery.DeliveredAt = &now
}

// The functions below are the gateway-driven path. They bypass the user
// transition table and carry their own guards; each reports whether it changed anything.

// ApplyCheckoutCompleted records the payment intent of a finished checkout.
func (t *Transaction) ApplyCheckoutCompleted(paymentIntentID string) bool {
	if t.Status.Terminal() {
		return false
	}
	changed := false
	if paymentIntentID != "" && t.Payment.StripePaymentIntentID == "" {
		t.Payment.StripePaymentIntentID = paymentIntentID
		changed = true
	}
	if t.Payment.Status == PaymentPending {
		t.Payment.Status = PaymentProcessing
		changed = true
	}
	return changed
}

// ApplyPaymentSucceeded marks the payment settled. Replays are no-ops.
func (t *Transaction) ApplyPaymentSucceeded(paymentIntentID string, now time.Time) bool {
	if t.Payment.Status == PaymentCompleted || t.Payment.Status == PaymentRefunded {
		return false
	}
	if paymentIntentID != "" {
		t.Payment.StripePaymentIntentID = paymentIntentID
	}
	t.Payment.Status = PaymentCompleted
	t.Payment.PaidAt = &now
	if t.Status == TxPending {
		t.Status = TxProcessing
	}
	return true
}

// ApplyPaymentFailed cancels an unpaid transaction.
func (t *Transaction) ApplyPaymentFailed() bool {
	if t.Payment.Status == PaymentCompleted || t.Payment.Status == PaymentRefunded || t.Status.Terminal() {
		return false
	}
	t.Payment.Status = PaymentFailed
	t.Status = TxCancelled
	return true
}

// ApplyRefund records a refund issued at the gateway.
func (t *Transaction) ApplyRefund(amount float64, reason, refundID string, now time.Time) bool {
	if t.Payment.Status == PaymentRefunded {
		return false
	}
	t.Payment.Status = PaymentRefunded
	t.Payment.RefundedAt = &now
	t.Payment.RefundAmount = Round2(amount)
	t.Payment.RefundReason = reason
	t.Payment.RefundID = refundID
	t.Status = TxRefunded
	return true
}

// ApplyDispute flags a chargeback opened at the gateway.
func (t *Transaction) ApplyDispute(reason string, now time.Time) bool {
	if t.Dispute.IsDisputed {
		return false
	}
	t.Dispute.IsDisputed = true
	t.Dispute.Reason = reason
	t.Dispute.DisputeDate = &now
	return true
}
