package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueReconcile is the Redis list key for pending-reservation reconcile jobs.
	QueueReconcile = "worker:reservations:reconcile"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// pollTimeout bounds each blocking pop so the worker loop can observe cancellation.
	pollTimeout    = 5 * time.Second
	inflightPrefix = "worker:reservations:inflight:"
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeReservationReconcile JobType = "reservation_reconcile"
)

// ReconcilePayload is the payload for reconcile jobs.
type ReconcilePayload struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	PaymentID     string    `json:"payment_id"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client redis.Cmdable
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client redis.Cmdable, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueReconcile enqueues a reconcile job unless one for the same payment is already in flight.
// The in-flight marker expires after ttl so a lost job is eventually re-enqueued. Reports whether a job was pushed.
func (q *Queue) EnqueueReconcile(ctx context.Context, payload ReconcilePayload, ttl time.Duration) (bool, error) {
	fresh, err := q.client.SetNX(ctx, inflightPrefix+payload.PaymentID, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx inflight: %w", err)
	}
	if !fresh {
		return false, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      JobTypeReservationReconcile,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueReconcile, raw).Err(); err != nil {
		_ = q.client.Del(ctx, inflightPrefix+payload.PaymentID).Err()
		return false, fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued reconcile job", zap.String("job_id", job.ID), zap.String("payment_id", payload.PaymentID))
	return true, nil
}

// Done clears the in-flight marker of a finished reconcile job.
func (q *Queue) Done(ctx context.Context, paymentID string) error {
	return q.client.Del(ctx, inflightPrefix+paymentID).Err()
}

// Dequeue waits up to a short poll timeout for a job. Returns nil job when none arrived.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, pollTimeout, QueueReconcile).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueReconcile, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
