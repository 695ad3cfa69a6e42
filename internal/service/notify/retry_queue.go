package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRetryKey is the sorted set holding parked notifications.
const DefaultRetryKey = "insights:notify:retry"

// Pending is a notification waiting for its next attempt.
type Pending struct {
	ID          string    `json:"id"`
	Payload     Payload   `json:"payload"`
	NextAttempt int       `json:"next_attempt"`
	DueAt       time.Time `json:"due_at"`
	LastError   string    `json:"last_error,omitempty"`
}

// RetryQueue parks notifications in Redis until they are due.
type RetryQueue struct {
	client *redis.Client
	key    string
}

// NewRetryQueue creates a queue on the given key (DefaultRetryKey if empty).
func NewRetryQueue(client *redis.Client, key string) *RetryQueue {
	if key == "" {
		key = DefaultRetryKey
	}
	return &RetryQueue{client: client, key: key}
}

// Schedule parks p until p.DueAt.
func (q *RetryQueue) Schedule(ctx context.Context, p Pending) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending notification: %w", err)
	}
	if err := q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(p.DueAt.UnixMilli()),
		Member: data,
	}).Err(); err != nil {
		return fmt.Errorf("schedule retry for %s: %w", p.Payload.UserID, err)
	}
	return nil
}

// claimScript pops up to ARGV[2] members scored at or below ARGV[1].
var claimScript = redis.NewScript(`
	local items = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[1], "LIMIT", "0", ARGV[2])
	for _, item in ipairs(items) do
		redis.call("zrem", KEYS[1], item)
	end
	return items
`)

// ClaimDue atomically removes and returns up to limit notifications due at
// or before now. Claimed entries belong to the caller.
func (q *RetryQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Pending, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := claimScript.Run(ctx, q.client, []string{q.key}, now.UnixMilli(), limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim due retries: %w", err)
	}

	out := make([]Pending, 0, len(raw))
	var decodeErr error
	for _, item := range raw {
		var p Pending
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			decodeErr = fmt.Errorf("decode pending notification: %w", err)
			continue
		}
		out = append(out, p)
	}
	return out, decodeErr
}

// Len returns the number of parked notifications.
func (q *RetryQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
