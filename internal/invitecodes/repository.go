package invitecodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizdev-events/backend/internal/models"
	"github.com/bizdev-events/backend/pkg/database"
)

var (
	// ErrNotFound means no unused code matches.
	ErrNotFound = errors.New("invite code not found")
	// ErrDuplicate means the code already exists.
	ErrDuplicate = errors.New("invite code already exists")
)

// Normalize trims and upper-cases a code so lookups ignore case and stray whitespace.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository handles invite code persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an invite code repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) querier(q database.Querier) database.Querier {
	if q == nil {
		return r.pool
	}
	return q
}

// FindUnused returns the unused code matching code, or ErrNotFound.
func (r *Repository) FindUnused(ctx context.Context, code string) (*models.InviteCode, error) {
	const q = `SELECT id, code, is_used, used_by, used_at, created_at
		FROM invite_codes WHERE code = $1 AND is_used = FALSE`
	var ic models.InviteCode
	err := r.pool.QueryRow(ctx, q, Normalize(code)).
		Scan(&ic.ID, &ic.Code, &ic.IsUsed, &ic.UsedBy, &ic.UsedAt, &ic.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find invite code: %w", err)
	}
	return &ic, nil
}

// Redeem marks code used by email in one conditional update. The bool is false when the code
// is unknown or was already used, in which case nothing changed.
func (r *Repository) Redeem(ctx context.Context, q database.Querier, code, email string) (uuid.UUID, bool, error) {
	const stmt = `UPDATE invite_codes SET is_used = TRUE, used_by = $2, used_at = NOW()
		WHERE code = $1 AND is_used = FALSE
		RETURNING id`
	var id uuid.UUID
	err := r.querier(q).QueryRow(ctx, stmt, Normalize(code), email).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("redeem invite code: %w", err)
	}
	return id, true, nil
}

// Create inserts a new unused code.
func (r *Repository) Create(ctx context.Context, code string) (*models.InviteCode, error) {
	const q = `INSERT INTO invite_codes (code) VALUES ($1)
		ON CONFLICT (code) DO NOTHING
		RETURNING id, code, is_used, used_by, used_at, created_at`
	var ic models.InviteCode
	err := r.pool.QueryRow(ctx, q, Normalize(code)).
		Scan(&ic.ID, &ic.Code, &ic.IsUsed, &ic.UsedBy, &ic.UsedAt, &ic.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create invite code: %w", err)
	}
	return &ic, nil
}

// List returns the most recent codes, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]models.InviteCode, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, is_used, used_by, used_at, created_at
		FROM invite_codes ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list invite codes: %w", err)
	}
	defer rows.Close()
	var list []models.InviteCode
	for rows.Next() {
		var ic models.InviteCode
		if err := rows.Scan(&ic.ID, &ic.Code, &ic.IsUsed, &ic.UsedBy, &ic.UsedAt, &ic.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, ic)
	}
	return list, rows.Err()
}
