// Package payments creates and inspects hosted checkout sessions at the payment provider.
package payments

import (
	"context"
	"errors"
)

var (
	// ErrProvider wraps any failure reported by the payment provider.
	ErrProvider = errors.New("payment provider error")
	// ErrSessionNotFound means the provider does not know the session id.
	ErrSessionNotFound = errors.New("checkout session not found")
)

// PaymentStatus is the provider's view of whether a session has been paid.
type PaymentStatus string

const (
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusUnpaid            PaymentStatus = "unpaid"
	PaymentStatusNoPaymentRequired PaymentStatus = "no_payment_required"
)

// SessionStatus is the lifecycle state of a checkout session.
type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionComplete SessionStatus = "complete"
	SessionExpired  SessionStatus = "expired"
)

// SessionRequest carries the customer data attached to a new checkout session.
// Price and redirect URLs are fixed by the gateway's configuration.
type SessionRequest struct {
	Email     string
	Name      string
	Phone     string
	EventDate string
}

// Session is the subset of a provider checkout session the reservation flow uses.
type Session struct {
	ID            string            `json:"id"`
	URL           string            `json:"url,omitempty"`
	PaymentStatus PaymentStatus     `json:"payment_status"`
	Status        SessionStatus     `json:"status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Paid reports whether the provider considers the session paid.
func (s *Session) Paid() bool {
	return s.PaymentStatus == PaymentStatusPaid
}

// Gateway is the port to the payment provider.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	ExpireSession(ctx context.Context, id string) error
}
