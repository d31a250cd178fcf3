// Package notify moves direct messages between clusters through a shared
// Redis list. Any cluster may enqueue; each cluster runs one consumer that
// delivers what it can reach and drops the rest.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"coord-service/internal/client"
	"coord-service/internal/models"
)

var (
	// ErrEmpty is returned by Pop when nothing arrived within the pop timeout.
	ErrEmpty = errors.New("notification queue is empty")
	// ErrMalformed is returned by Pop for an entry that could not be decoded.
	// The entry has already been removed from the queue.
	ErrMalformed = errors.New("malformed notification envelope")
)

type RedisQueue struct {
	client     *client.RedisClient
	key        string
	popTimeout time.Duration
	origin     string
	now        func() time.Time
}

func NewRedisQueue(c *client.RedisClient, key string, popTimeout time.Duration, origin string) *RedisQueue {
	return &RedisQueue{
		client:     c,
		key:        key,
		popTimeout: popTimeout,
		origin:     origin,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue appends a message for recipientID to the tail of the queue.
func (q *RedisQueue) Enqueue(ctx context.Context, recipientID int64, payload string) (models.Envelope, error) {
	env := models.Envelope{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Payload:     payload,
		EnqueuedAt:  q.now(),
		Origin:      q.origin,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return models.Envelope{}, fmt.Errorf("failed to encode envelope: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, data); err != nil {
		return models.Envelope{}, fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return env, nil
}

// Pop blocks for the head of the queue. Each entry is handed to exactly one
// caller across all clusters.
func (q *RedisQueue) Pop(ctx context.Context) (models.Envelope, error) {
	raw, err := q.client.BLPop(ctx, q.popTimeout, q.key)
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return models.Envelope{}, ErrEmpty
		}
		return models.Envelope{}, fmt.Errorf("failed to pop notification: %w", err)
	}

	var env models.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return models.Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}
