package reservations

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation means a required field is missing or malformed. No side effect was performed.
	ErrValidation = errors.New("invalid reservation request")
	// ErrInviteCodeUnavailable means the code is unknown or was already redeemed.
	ErrInviteCodeUnavailable = errors.New("invite code invalid or already used")
	// ErrMissingSessionID means verify was called without a session id.
	ErrMissingSessionID = errors.New("session id required")
	// ErrPaymentNotCompleted means the provider does not report the session as paid.
	ErrPaymentNotCompleted = errors.New("payment not completed")
	// ErrNotFound means no reservation carries the payment id.
	ErrNotFound = errors.New("reservation not found")
	// ErrStatusConflict means the reservation is in a status the transition does not accept.
	ErrStatusConflict = errors.New("reservation status does not allow this change")
)

// ValidationError lists the fields a submission is missing or has malformed.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return ErrValidation.Error() + ": " + strings.Join(e.Fields, ", ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Stage names a step of the submission flow.
type Stage string

const (
	StageValidate       Stage = "validate"
	StageRedeemCode     Stage = "redeem_code"
	StagePaymentSession Stage = "payment_session"
	StagePersist        Stage = "persist_reservation"
)

// StageError records which step of a submission failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage recorded in err, or "" when err carries none.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
