package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
)

// FreePaymentPrefix marks the synthetic payment id of a reservation paid with an invite code.
const FreePaymentPrefix = "free_"

// Valid reports whether s is a known status.
func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationPending, ReservationConfirmed, ReservationCancelled:
		return true
	}
	return false
}

// Reservation is a seat at the event. Amount is in minor currency units.
type Reservation struct {
	ID         uuid.UUID         `json:"id"`
	Name       string            `json:"name"`
	Email      string            `json:"email"`
	Phone      string            `json:"phone"`
	EventDate  time.Time         `json:"event_date"`
	Status     ReservationStatus `json:"status"`
	PaymentID  string            `json:"payment_id"`
	Amount     int64             `json:"amount"`
	InviteCode *string           `json:"invite_code,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// IsComped reports whether the reservation was paid with an invite code rather than at the provider.
func (r *Reservation) IsComped() bool {
	return strings.HasPrefix(r.PaymentID, FreePaymentPrefix)
}

// NewFreePaymentID returns a synthetic payment id for a comped reservation.
func NewFreePaymentID() string {
	return FreePaymentPrefix + uuid.NewString()
}
