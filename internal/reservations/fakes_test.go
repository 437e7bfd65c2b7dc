package reservations

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bizdev-events/backend/internal/models"
	"github.com/bizdev-events/backend/internal/payments"
	"github.com/bizdev-events/backend/pkg/database"
)

var errDB = errors.New("db unavailable")

type fakeCode struct {
	id     uuid.UUID
	used   bool
	usedBy string
}

// fakeDB is an in-memory store of codes and reservations. WithTx runs transactions one at a
// time, snapshotting both maps and restoring them when fn fails.
type fakeDB struct {
	txMu      sync.Mutex
	mu        sync.Mutex
	codes     map[string]*fakeCode
	byPayment map[string]*models.Reservation
	createErr error
	redeemErr error
	listErr   error
}

func newFakeDB(codes ...string) *fakeDB {
	db := &fakeDB{codes: map[string]*fakeCode{}, byPayment: map[string]*models.Reservation{}}
	for _, c := range codes {
		db.codes[c] = &fakeCode{id: uuid.New()}
	}
	return db
}

func (db *fakeDB) WithTx(ctx context.Context, fn func(ctx context.Context, q database.Querier) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	codes := make(map[string]fakeCode, len(db.codes))
	for k, v := range db.codes {
		codes[k] = *v
	}
	rows := make(map[string]models.Reservation, len(db.byPayment))
	for k, v := range db.byPayment {
		rows[k] = *v
	}
	db.mu.Unlock()

	if err := fn(ctx, nil); err != nil {
		db.mu.Lock()
		db.codes = map[string]*fakeCode{}
		for k, v := range codes {
			v := v
			db.codes[k] = &v
		}
		db.byPayment = map[string]*models.Reservation{}
		for k, v := range rows {
			v := v
			db.byPayment[k] = &v
		}
		db.mu.Unlock()
		return err
	}
	return nil
}

func (db *fakeDB) Redeem(_ context.Context, _ database.Querier, code, email string) (uuid.UUID, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.redeemErr != nil {
		return uuid.Nil, false, db.redeemErr
	}
	c, ok := db.codes[code]
	if !ok || c.used {
		return uuid.Nil, false, nil
	}
	c.used = true
	c.usedBy = email
	return c.id, true, nil
}

func (db *fakeDB) codeUsed(code string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.codes[code]
	return ok && c.used
}

func (db *fakeDB) count() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.byPayment)
}

func (db *fakeDB) Create(_ context.Context, _ database.Querier, res *models.Reservation) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.createErr != nil {
		return db.createErr
	}
	if _, dup := db.byPayment[res.PaymentID]; dup {
		return errors.New("duplicate payment_id")
	}
	res.ID = uuid.New()
	res.CreatedAt = time.Now()
	res.UpdatedAt = res.CreatedAt
	cp := *res
	db.byPayment[res.PaymentID] = &cp
	return nil
}

func (db *fakeDB) GetByPaymentID(_ context.Context, paymentID string) (*models.Reservation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.byPayment[paymentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (db *fakeDB) ConfirmByPaymentID(_ context.Context, paymentID string) (*models.Reservation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.byPayment[paymentID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status == models.ReservationCancelled {
		return nil, ErrStatusConflict
	}
	r.Status = models.ReservationConfirmed
	cp := *r
	return &cp, nil
}

func (db *fakeDB) CancelPendingByPaymentID(_ context.Context, paymentID string) (*models.Reservation, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.byPayment[paymentID]
	if !ok {
		return nil, false, ErrNotFound
	}
	changed := r.Status == models.ReservationPending
	if changed {
		r.Status = models.ReservationCancelled
	}
	cp := *r
	return &cp, changed, nil
}

func (db *fakeDB) List(_ context.Context, f ListFilter) ([]models.Reservation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.listErr != nil {
		return nil, db.listErr
	}
	var out []models.Reservation
	for _, r := range db.byPayment {
		if f.Status == "" || r.Status == f.Status {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (db *fakeDB) ListPendingOlderThan(_ context.Context, cutoff time.Time, limit int) ([]models.Reservation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.Reservation
	for _, r := range db.byPayment {
		if r.Status == models.ReservationPending && r.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

// fakeGateway records what the service asked of the provider.
type fakeGateway struct {
	mu        sync.Mutex
	sessions  map[string]*payments.Session
	createErr error
	getErr    error
	created   []payments.SessionRequest
	expired   []string
	next      int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: map[string]*payments.Session{}}
}

func (g *fakeGateway) CreateSession(_ context.Context, req payments.SessionRequest) (*payments.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.next++
	id := "cs_test_" + strconv.Itoa(g.next)
	s := &payments.Session{
		ID:            id,
		URL:           "https://checkout.example/" + id,
		PaymentStatus: payments.PaymentStatusUnpaid,
		Status:        payments.SessionOpen,
	}
	g.sessions[id] = s
	g.created = append(g.created, req)
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) GetSession(_ context.Context, id string) (*payments.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return nil, g.getErr
	}
	s, ok := g.sessions[id]
	if !ok {
		return nil, payments.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) ExpireSession(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expired = append(g.expired, id)
	if s, ok := g.sessions[id]; ok {
		s.Status = payments.SessionExpired
	}
	return nil
}

func (g *fakeGateway) markPaid(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[id].PaymentStatus = payments.PaymentStatusPaid
	g.sessions[id].Status = payments.SessionComplete
}

func (g *fakeGateway) createdCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.created)
}

// memGuard is a SubmissionGuard backed by a map.
type memGuard struct {
	entries map[string]*payments.Session
	err     error
}

func (g *memGuard) Lookup(_ context.Context, key string) (*payments.Session, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.entries[key], nil
}

func (g *memGuard) Remember(_ context.Context, key string, s *payments.Session) error {
	if g.err != nil {
		return g.err
	}
	g.entries[key] = s
	return nil
}

var testEventDate = time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

func newTestService(db *fakeDB, gw *fakeGateway, guard SubmissionGuard) *Service {
	return NewService(Deps{
		Codes:   db,
		Store:   db,
		Tx:      db,
		Gateway: gw,
		Guard:   guard,
		Event:   Event{Date: testEventDate, PriceCents: 5000},
	})
}
