package domain

import (
	"fmt"
	"net/http"
)

// StatusCoder is implemented by every error the HTTP layer can map to a status.
type StatusCoder interface {
	StatusCode() int
}

// FieldError is one failed input check.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Message string
	Fields  []FieldError
}

func NewValidationError(message string, fields ...FieldError) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}

func (e *ValidationError) Error() string   { return e.Message }
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

// Add appends a field error and returns the receiver for chaining.
func (e *ValidationError) Add(field, message string) *ValidationError {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
	return e
}

// OrNil returns nil when no field errors were collected.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

type UnauthenticatedError struct {
	Message string
}

func (e *UnauthenticatedError) Error() string {
	if e.Message == "" {
		return "Not authorized to access this route"
	}
	return e.Message
}
func (e *UnauthenticatedError) StatusCode() int { return http.StatusUnauthorized }

type NotAuthorizedError struct {
	Message string
}

func (e *NotAuthorizedError) Error() string {
	if e.Message == "" {
		return "Not authorized to perform this action"
	}
	return e.Message
}
func (e *NotAuthorizedError) StatusCode() int { return http.StatusForbidden }

type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string   { return e.Resource + " not found" }
func (e *NotFoundError) StatusCode() int { return http.StatusNotFound }

// InvalidStateError is returned when an operation is not allowed in the entity's current state.
type InvalidStateError struct {
	Message string
}

func (e *InvalidStateError) Error() string   { return e.Message }
func (e *InvalidStateError) StatusCode() int { return http.StatusBadRequest }

type InvalidTransitionError struct {
	From TransactionStatus
	To   TransactionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("Cannot transition from %s to %s", e.From, e.To)
}
func (e *InvalidTransitionError) StatusCode() int { return http.StatusBadRequest }

type SignatureError struct {
	Err error
}

func (e *SignatureError) Error() string {
	if e.Err == nil {
		return "Webhook signature verification failed"
	}
	return "Webhook signature verification failed: " + e.Err.Error()
}
func (e *SignatureError) Unwrap() error   { return e.Err }
func (e *SignatureError) StatusCode() int { return http.StatusBadRequest }

// GatewayError wraps a failure reported by the payment provider.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s failed: %v", e.Op, e.Err)
}
func (e *GatewayError) Unwrap() error   { return e.Err }
func (e *GatewayError) StatusCode() int { return http.StatusBadGateway }

type RefundNotEligibleError struct {
	PaymentStatus PaymentStatus
}

func (e *RefundNotEligibleError) Error() string {
	return fmt.Sprintf("Transaction is not eligible for refund (payment status %s)", e.PaymentStatus)
}
func (e *RefundNotEligibleError) StatusCode() int { return http.StatusBadRequest }

// ConflictError is returned for unique-key clashes such as a duplicate email.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string   { return e.Message }
func (e *ConflictError) StatusCode() int { return http.StatusBadRequest }
