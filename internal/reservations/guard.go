package reservations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bizdev-events/backend/internal/payments"
)

// RedisGuard remembers the checkout session opened for a submission so a retried
// submission reuses it instead of opening another billable session.
type RedisGuard struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisGuard creates a guard whose entries live for ttl.
func NewRedisGuard(client redis.Cmdable, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func submissionKey(email string, eventDate time.Time) string {
	return "reservation:submission:" + strings.ToLower(strings.TrimSpace(email)) + ":" + eventDate.Format(time.DateOnly)
}

// Lookup returns the remembered session for key, or nil when there is none.
func (g *RedisGuard) Lookup(ctx context.Context, key string) (*payments.Session, error) {
	raw, err := g.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}
	var s payments.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode submission: %w", err)
	}
	return &s, nil
}

// Remember stores s under key for the guard's ttl.
func (g *RedisGuard) Remember(ctx context.Context, key string, s *payments.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return g.client.Set(ctx, key, raw, g.ttl).Err()
}
