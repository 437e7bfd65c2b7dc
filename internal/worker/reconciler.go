// Package worker reconciles reservations whose checkout outcome never reached the API,
// e.g. when the customer closed the browser before returning to the success page.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bizdev-events/backend/internal/metrics"
	"github.com/bizdev-events/backend/internal/models"
	"github.com/bizdev-events/backend/internal/reservations"
	"github.com/bizdev-events/backend/pkg/queue"
)

const scanBatch = 100

// Reservations is the part of the reservation service the reconciler drives.
type Reservations interface {
	StalePending(ctx context.Context, age time.Duration, limit int) ([]models.Reservation, error)
	Reconcile(ctx context.Context, paymentID string) (reservations.ReconcileOutcome, error)
}

// JobQueue carries reconcile jobs between the scanner and the processor.
type JobQueue interface {
	EnqueueReconcile(ctx context.Context, payload queue.ReconcilePayload, ttl time.Duration) (bool, error)
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
	Done(ctx context.Context, paymentID string) error
}

// Reconciler finds stale pending reservations and asks the provider what became of them.
type Reconciler struct {
	svc        Reservations
	queue      JobQueue
	interval   time.Duration
	staleAfter time.Duration
	backoff    time.Duration
	logger     *zap.Logger
}

// NewReconciler creates a reconciler that scans every interval for reservations pending longer than staleAfter.
func NewReconciler(svc Reservations, q JobQueue, interval, staleAfter time.Duration, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		svc:        svc,
		queue:      q,
		interval:   interval,
		staleAfter: staleAfter,
		backoff:    queue.RetryBackoff,
		logger:     logger,
	}
}

// Scan enqueues one reconcile job per stale pending reservation. Returns how many were enqueued.
func (r *Reconciler) Scan(ctx context.Context) (int, error) {
	stale, err := r.svc.StalePending(ctx, r.staleAfter, scanBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale reservations: %w", err)
	}
	enqueued := 0
	for _, res := range stale {
		pushed, err := r.queue.EnqueueReconcile(ctx, queue.ReconcilePayload{ReservationID: res.ID, PaymentID: res.PaymentID}, r.staleAfter)
		if err != nil {
			return enqueued, err
		}
		if pushed {
			enqueued++
		}
	}
	return enqueued, nil
}

// Process executes one reconcile job.
func (r *Reconciler) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeReservationReconcile {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ReconcilePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	outcome, err := r.svc.Reconcile(ctx, payload.PaymentID)
	if err != nil {
		metrics.ReconcileOutcomes.WithLabelValues("error").Inc()
		return fmt.Errorf("reconcile %s: %w", payload.PaymentID, err)
	}
	metrics.ReconcileOutcomes.WithLabelValues(string(outcome)).Inc()
	if err := r.queue.Done(ctx, payload.PaymentID); err != nil {
		r.logger.Warn("clear inflight marker failed", zap.Error(err), zap.String("payment_id", payload.PaymentID))
	}
	r.logger.Info("reservation reconciled", zap.String("payment_id", payload.PaymentID), zap.String("outcome", string(outcome)))
	return nil
}

// Run starts the scanner and the processing loop and blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	go r.scanLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return
		default:
		}

		job, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			r.logger.Warn("dequeue error", zap.Error(err))
			r.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		r.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := r.Process(ctx, job); err != nil {
			r.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := r.queue.Retry(ctx, job); reErr != nil {
				r.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			r.sleep(ctx)
		}
	}
}

func (r *Reconciler) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if n, err := r.Scan(ctx); err != nil {
			r.logger.Warn("reconcile scan failed", zap.Error(err))
		} else if n > 0 {
			r.logger.Info("reconcile jobs enqueued", zap.Int("count", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) sleep(ctx context.Context) {
	t := time.NewTimer(r.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
