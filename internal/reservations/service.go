package reservations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bizdev-events/backend/internal/invitecodes"
	"github.com/bizdev-events/backend/internal/metrics"
	"github.com/bizdev-events/backend/internal/models"
	"github.com/bizdev-events/backend/internal/payments"
	"github.com/bizdev-events/backend/pkg/database"
)

// CodeRedeemer atomically consumes an invite code.
type CodeRedeemer interface {
	Redeem(ctx context.Context, q database.Querier, code, email string) (uuid.UUID, bool, error)
}

// Store is the reservation persistence the service needs; *Repository implements it.
type Store interface {
	Create(ctx context.Context, q database.Querier, res *models.Reservation) error
	GetByPaymentID(ctx context.Context, paymentID string) (*models.Reservation, error)
	ConfirmByPaymentID(ctx context.Context, paymentID string) (*models.Reservation, error)
	CancelPendingByPaymentID(ctx context.Context, paymentID string) (*models.Reservation, bool, error)
	List(ctx context.Context, f ListFilter) ([]models.Reservation, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Reservation, error)
}

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, q database.Querier) error) error
}

// SubmissionGuard remembers checkout sessions per submission key. Lookup returns nil when unknown.
type SubmissionGuard interface {
	Lookup(ctx context.Context, key string) (*payments.Session, error)
	Remember(ctx context.Context, key string, s *payments.Session) error
}

// Event is the event instance reservations are taken for.
type Event struct {
	Date       time.Time
	PriceCents int64
}

// Deps groups the collaborators of Service.
type Deps struct {
	Codes   CodeRedeemer
	Store   Store
	Tx      TxRunner
	Gateway payments.Gateway
	Guard   SubmissionGuard // optional
	Event   Event
	Logger  *zap.Logger
}

// CreateInput is a reservation submission.
type CreateInput struct {
	Name         string `validate:"required"`
	Email        string `validate:"required,email"`
	Phone        string `validate:"required"`
	InviteCode   string
	HasValidCode bool
}

// CreateResult tells the client where to go next: the provider checkout for a paid
// reservation, or straight to the success page for a comped one.
type CreateResult struct {
	SessionID   string
	URL         string
	Message     string
	Reservation *models.Reservation
}

// ReconcileOutcome is what a reconcile pass did to a reservation.
type ReconcileOutcome string

const (
	OutcomeConfirmed ReconcileOutcome = "confirmed"
	OutcomeCancelled ReconcileOutcome = "cancelled"
	OutcomePending   ReconcileOutcome = "pending"
)

const (
	messagePaymentSession = "Sesión de pago creada"
	messageComped         = "Reserva confirmada con código de invitación"
)

// Service sequences invite-code redemption, checkout session creation and persistence,
// and confirms reservations once the provider reports them paid.
type Service struct {
	codes    CodeRedeemer
	store    Store
	tx       TxRunner
	gateway  payments.Gateway
	guard    SubmissionGuard
	event    Event
	validate *validator.Validate
	logger   *zap.Logger
}

var _ payments.SessionEvents = (*Service)(nil)

// NewService creates a reservation service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{
		codes:    d.Codes,
		store:    d.Store,
		tx:       d.Tx,
		gateway:  d.Gateway,
		guard:    d.Guard,
		event:    d.Event,
		validate: validator.New(),
		logger:   d.Logger,
	}
}

func (s *Service) fail(stage Stage, err error) error {
	metrics.ReservationFailures.WithLabelValues(string(stage)).Inc()
	return &StageError{Stage: stage, Err: err}
}

// Create handles a submission. A code is honoured only when the client says it validated one
// and actually sends it; anything else goes through checkout.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.InviteCode = invitecodes.Normalize(in.InviteCode)

	if err := s.validate.Struct(in); err != nil {
		return nil, s.fail(StageValidate, &ValidationError{Fields: invalidFields(err)})
	}
	if in.HasValidCode && in.InviteCode != "" {
		return s.createComped(ctx, in)
	}
	return s.createPaid(ctx, in)
}

// createComped redeems the code and inserts the reservation in one transaction, so a failed
// insert leaves the code unused. A code that is unknown or already used sends the
// submission down the payment path instead.
func (s *Service) createComped(ctx context.Context, in CreateInput) (*CreateResult, error) {
	var created *models.Reservation
	err := s.tx.WithTx(ctx, func(ctx context.Context, q database.Querier) error {
		_, ok, err := s.codes.Redeem(ctx, q, in.InviteCode, in.Email)
		if err != nil {
			return s.fail(StageRedeemCode, err)
		}
		if !ok {
			return ErrInviteCodeUnavailable
		}
		code := in.InviteCode
		res := &models.Reservation{
			Name:       in.Name,
			Email:      in.Email,
			Phone:      in.Phone,
			EventDate:  s.event.Date,
			Status:     models.ReservationConfirmed,
			PaymentID:  models.NewFreePaymentID(),
			Amount:     0,
			InviteCode: &code,
		}
		if err := s.store.Create(ctx, q, res); err != nil {
			return s.fail(StagePersist, err)
		}
		created = res
		return nil
	})
	if errors.Is(err, ErrInviteCodeUnavailable) {
		s.logger.Info("invite code not redeemable, falling back to payment",
			zap.String("code", in.InviteCode), zap.String("email", in.Email))
		return s.createPaid(ctx, in)
	}
	if err != nil {
		if FailedStage(err) == "" {
			err = s.fail(StagePersist, err)
		}
		s.logger.Warn("comped reservation failed", zap.Error(err), zap.String("email", in.Email))
		return nil, err
	}

	metrics.ReservationsCreated.WithLabelValues("invite_code").Inc()
	s.logger.Info("reservation confirmed with invite code",
		zap.String("payment_id", created.PaymentID), zap.String("email", created.Email))
	return &CreateResult{SessionID: created.PaymentID, Message: messageComped, Reservation: created}, nil
}

func (s *Service) createPaid(ctx context.Context, in CreateInput) (*CreateResult, error) {
	key := submissionKey(in.Email, s.event.Date)
	if prev := s.lookupSubmission(ctx, key); prev != nil {
		metrics.ReservationsCreated.WithLabelValues("reused_session").Inc()
		s.logger.Info("reusing checkout session for repeated submission",
			zap.String("payment_id", prev.ID), zap.String("email", in.Email))
		return &CreateResult{SessionID: prev.ID, URL: prev.URL, Message: messagePaymentSession}, nil
	}

	sess, err := s.gateway.CreateSession(ctx, payments.SessionRequest{
		Email:     in.Email,
		Name:      in.Name,
		Phone:     in.Phone,
		EventDate: s.event.Date.Format(time.DateOnly),
	})
	if err != nil {
		s.logger.Error("create checkout session failed", zap.Error(err), zap.String("email", in.Email))
		return nil, s.fail(StagePaymentSession, err)
	}

	res := &models.Reservation{
		Name:      in.Name,
		Email:     in.Email,
		Phone:     in.Phone,
		EventDate: s.event.Date,
		Status:    models.ReservationPending,
		PaymentID: sess.ID,
		Amount:    s.event.PriceCents,
	}
	if err := s.store.Create(ctx, nil, res); err != nil {
		s.logger.Error("persist pending reservation failed", zap.Error(err), zap.String("payment_id", sess.ID))
		if expErr := s.gateway.ExpireSession(ctx, sess.ID); expErr != nil {
			s.logger.Warn("expire orphan checkout session failed", zap.Error(expErr), zap.String("payment_id", sess.ID))
		}
		return nil, s.fail(StagePersist, err)
	}

	if s.guard != nil {
		if err := s.guard.Remember(ctx, key, sess); err != nil {
			s.logger.Warn("remember submission failed", zap.Error(err))
		}
	}
	metrics.ReservationsCreated.WithLabelValues("payment").Inc()
	s.logger.Info("pending reservation created", zap.String("payment_id", sess.ID), zap.String("email", res.Email))
	return &CreateResult{SessionID: sess.ID, URL: sess.URL, Message: messagePaymentSession, Reservation: res}, nil
}

// lookupSubmission returns the remembered session for key while the provider still reports it open.
// Guard or provider failures count as a miss.
func (s *Service) lookupSubmission(ctx context.Context, key string) *payments.Session {
	if s.guard == nil {
		return nil
	}
	prev, err := s.guard.Lookup(ctx, key)
	if err != nil {
		s.logger.Warn("submission guard unavailable", zap.Error(err))
		return nil
	}
	if prev == nil {
		return nil
	}
	cur, err := s.gateway.GetSession(ctx, prev.ID)
	if err != nil {
		s.logger.Warn("recheck remembered session failed", zap.Error(err), zap.String("payment_id", prev.ID))
		return nil
	}
	if cur.Status != payments.SessionOpen || cur.Paid() {
		return nil
	}
	if cur.URL == "" {
		cur.URL = prev.URL
	}
	return cur
}

// Verify asks the provider for the session's payment status and confirms the reservation when paid.
// Calling it again for a confirmed reservation leaves it confirmed.
func (s *Service) Verify(ctx context.Context, sessionID string) (*models.Reservation, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}

	if strings.HasPrefix(sessionID, models.FreePaymentPrefix) {
		res, err := s.store.GetByPaymentID(ctx, sessionID)
		if err != nil {
			s.countVerify(err)
			return nil, err
		}
		metrics.PaymentVerifications.WithLabelValues("confirmed").Inc()
		return res, nil
	}

	sess, err := s.gateway.GetSession(ctx, sessionID)
	if err != nil {
		s.countVerify(err)
		s.logger.Warn("retrieve checkout session failed", zap.Error(err), zap.String("payment_id", sessionID))
		return nil, err
	}
	if !sess.Paid() {
		metrics.PaymentVerifications.WithLabelValues("unpaid").Inc()
		return nil, ErrPaymentNotCompleted
	}

	res, err := s.store.ConfirmByPaymentID(ctx, sessionID)
	if err != nil {
		s.countVerify(err)
		s.logger.Error("confirm reservation failed", zap.Error(err), zap.String("payment_id", sessionID))
		return nil, err
	}
	metrics.PaymentVerifications.WithLabelValues("confirmed").Inc()
	s.logger.Info("reservation confirmed", zap.String("payment_id", sessionID))
	return res, nil
}

func (s *Service) countVerify(err error) {
	result := "error"
	if errors.Is(err, ErrNotFound) || errors.Is(err, payments.ErrSessionNotFound) {
		result = "not_found"
	}
	metrics.PaymentVerifications.WithLabelValues(result).Inc()
}

// ConfirmPaid confirms the reservation of a session the provider reported paid.
// Sessions that belong to no reservation are ignored.
func (s *Service) ConfirmPaid(ctx context.Context, sessionID string) error {
	_, err := s.store.ConfirmByPaymentID(ctx, sessionID)
	switch {
	case err == nil:
		s.logger.Info("reservation confirmed by provider event", zap.String("payment_id", sessionID))
		return nil
	case errors.Is(err, ErrNotFound):
		s.logger.Warn("paid session has no reservation", zap.String("payment_id", sessionID))
		return nil
	case errors.Is(err, ErrStatusConflict):
		s.logger.Error("paid session belongs to a cancelled reservation", zap.String("payment_id", sessionID))
		return nil
	default:
		return err
	}
}

// CancelExpired cancels the reservation of an expired session if it is still pending.
func (s *Service) CancelExpired(ctx context.Context, sessionID string) error {
	_, changed, err := s.store.CancelPendingByPaymentID(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if changed {
		s.logger.Info("reservation cancelled after session expiry", zap.String("payment_id", sessionID))
	}
	return nil
}

// Reconcile re-reads a pending reservation's session and applies the provider's verdict.
func (s *Service) Reconcile(ctx context.Context, paymentID string) (ReconcileOutcome, error) {
	sess, err := s.gateway.GetSession(ctx, paymentID)
	if err != nil {
		return "", err
	}
	switch {
	case sess.Paid():
		if err := s.ConfirmPaid(ctx, paymentID); err != nil {
			return "", err
		}
		return OutcomeConfirmed, nil
	case sess.Status == payments.SessionExpired:
		if err := s.CancelExpired(ctx, paymentID); err != nil {
			return "", err
		}
		return OutcomeCancelled, nil
	default:
		return OutcomePending, nil
	}
}

// StalePending lists pending reservations older than age.
func (s *Service) StalePending(ctx context.Context, age time.Duration, limit int) ([]models.Reservation, error) {
	return s.store.ListPendingOlderThan(ctx, time.Now().Add(-age), limit)
}

// List returns reservations for the admin API.
func (s *Service) List(ctx context.Context, f ListFilter) ([]models.Reservation, error) {
	return s.store.List(ctx, f)
}

// SetStatus applies an admin status change. Only pending reservations can be cancelled by hand;
// confirmation goes through Verify or Reconcile so the provider is always consulted.
// Cancelling an already cancelled reservation returns it unchanged.
func (s *Service) SetStatus(ctx context.Context, paymentID string, status models.ReservationStatus) (*models.Reservation, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	if status != models.ReservationCancelled {
		return nil, fmt.Errorf("%w: admin cannot set %s", ErrStatusConflict, status)
	}
	res, changed, err := s.store.CancelPendingByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !changed && res.Status != models.ReservationCancelled {
		return nil, fmt.Errorf("%w: reservation is %s", ErrStatusConflict, res.Status)
	}
	if changed {
		s.logger.Info("reservation cancelled by admin", zap.String("payment_id", paymentID))
	}
	return res, nil
}

// invalidFields lists the lower-cased names of the fields validator rejected.
func invalidFields(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		names = append(names, strings.ToLower(fe.Field()))
	}
	return names
}
