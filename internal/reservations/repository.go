package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizdev-events/backend/internal/models"
	"github.com/bizdev-events/backend/pkg/database"
)

const reservationColumns = `id, name, email, phone, event_date, status, payment_id, amount, invite_code, created_at, updated_at`

const maxListLimit = 10000

// ListFilter narrows List. Zero values mean no filter and the default limit.
type ListFilter struct {
	Status models.ReservationStatus
	Limit  int
}

// Repository handles reservation persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a reservations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) querier(q database.Querier) database.Querier {
	if q == nil {
		return r.pool
	}
	return q
}

func scanReservation(row pgx.Row) (*models.Reservation, error) {
	var (
		res    models.Reservation
		status string
	)
	err := row.Scan(&res.ID, &res.Name, &res.Email, &res.Phone, &res.EventDate, &status,
		&res.PaymentID, &res.Amount, &res.InviteCode, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	res.Status = models.ReservationStatus(status)
	return &res, nil
}

// Create inserts a reservation, filling its generated columns. q may be a transaction or nil.
func (r *Repository) Create(ctx context.Context, q database.Querier, res *models.Reservation) error {
	const stmt = `INSERT INTO reservations (name, email, phone, event_date, status, payment_id, amount, invite_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`
	err := r.querier(q).QueryRow(ctx, stmt,
		res.Name, res.Email, res.Phone, res.EventDate, string(res.Status), res.PaymentID, res.Amount, res.InviteCode,
	).Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// GetByPaymentID returns the reservation with paymentID, or ErrNotFound.
func (r *Repository) GetByPaymentID(ctx context.Context, paymentID string) (*models.Reservation, error) {
	res, err := scanReservation(r.pool.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE payment_id = $1`, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return res, nil
}

// allowedFrom lists, per target status, the statuses a reservation may currently hold.
// Nothing moves back to pending and a confirmed reservation only stays confirmed.
var allowedFrom = map[models.ReservationStatus][]string{
	models.ReservationConfirmed: {string(models.ReservationPending), string(models.ReservationConfirmed)},
	models.ReservationCancelled: {string(models.ReservationPending), string(models.ReservationCancelled)},
}

// UpdateStatusByPaymentID moves the reservation to status in one conditional update and returns the row.
// A transition allowedFrom rejects yields ErrStatusConflict; an unknown id yields ErrNotFound.
func (r *Repository) UpdateStatusByPaymentID(ctx context.Context, paymentID string, status models.ReservationStatus) (*models.Reservation, error) {
	from, ok := allowedFrom[status]
	if !ok {
		return nil, fmt.Errorf("%w: cannot move a reservation to %s", ErrStatusConflict, status)
	}
	res, err := scanReservation(r.pool.QueryRow(ctx,
		`UPDATE reservations SET status = $2, updated_at = NOW()
		WHERE payment_id = $1 AND status = ANY($3)
		RETURNING `+reservationColumns, paymentID, string(status), from))
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update reservation status: %w", err)
	}
	if _, getErr := r.GetByPaymentID(ctx, paymentID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrStatusConflict
}

// ConfirmByPaymentID moves a pending or already confirmed reservation to confirmed.
func (r *Repository) ConfirmByPaymentID(ctx context.Context, paymentID string) (*models.Reservation, error) {
	return r.UpdateStatusByPaymentID(ctx, paymentID, models.ReservationConfirmed)
}

// CancelPendingByPaymentID cancels the reservation only while it is pending. The bool reports whether it changed.
func (r *Repository) CancelPendingByPaymentID(ctx context.Context, paymentID string) (*models.Reservation, bool, error) {
	res, err := scanReservation(r.pool.QueryRow(ctx,
		`UPDATE reservations SET status = 'cancelled', updated_at = NOW()
		WHERE payment_id = $1 AND status = 'pending'
		RETURNING `+reservationColumns, paymentID))
	if err == nil {
		return res, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("cancel reservation: %w", err)
	}
	existing, getErr := r.GetByPaymentID(ctx, paymentID)
	if getErr != nil {
		return nil, false, getErr
	}
	return existing, false, nil
}

// List returns reservations newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]models.Reservation, error) {
	limit := f.Limit
	switch {
	case limit <= 0:
		limit = 200
	case limit > maxListLimit:
		limit = maxListLimit
	}
	var (
		rows pgx.Rows
		err  error
	)
	if f.Status != "" {
		rows, err = r.pool.Query(ctx, `SELECT `+reservationColumns+` FROM reservations
			WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, string(f.Status), limit)
	} else {
		rows, err = r.pool.Query(ctx, `SELECT `+reservationColumns+` FROM reservations
			ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return collect(rows)
}

// ListPendingOlderThan returns pending reservations created before cutoff, oldest first.
func (r *Repository) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Reservation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+reservationColumns+` FROM reservations
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending reservations: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]models.Reservation, error) {
	defer rows.Close()
	var list []models.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *res)
	}
	return list, rows.Err()
}
