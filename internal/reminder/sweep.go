// Package reminder sends vote reminders to users whose vote cooldown has run
// out.
package reminder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"coord-service/internal/metrics"
	"coord-service/internal/models"
)

type Accounts interface {
	PendingReminders(ctx context.Context, cutoff time.Time) ([]int64, error)
	ClearReminders(ctx context.Context, userIDs []int64, cutoff time.Time) (int, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, recipientID int64, payload string) (models.Envelope, error)
}

// Result summarizes one sweep.
type Result struct {
	Matched       int
	Enqueued      int
	EnqueueFailed int
	Cleared       int
}

type Sweep struct {
	accounts Accounts
	queue    Enqueuer
	metrics  *metrics.Metrics
	cooldown time.Duration
	message  string
	now      func() time.Time
	logger   *zap.Logger
}

func NewSweep(accounts Accounts, queue Enqueuer, m *metrics.Metrics, cooldown time.Duration, message string, logger *zap.Logger) *Sweep {
	return &Sweep{
		accounts: accounts,
		queue:    queue,
		metrics:  m,
		cooldown: cooldown,
		message:  message,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// Run enqueues one reminder per pending account, then clears the flag for
// exactly the ids the scan matched. Accounts that become due while the sweep
// runs keep their flag for the next sweep, as do matched accounts that voted
// again before the clear. A failed enqueue is counted and
// the account is still cleared.
func (s *Sweep) Run(ctx context.Context) (Result, error) {
	cutoff := s.now().Add(-s.cooldown)
	ids, err := s.accounts.PendingReminders(ctx, cutoff)
	if err != nil {
		return Result{}, fmt.Errorf("failed to scan pending reminders: %w", err)
	}

	res := Result{Matched: len(ids)}
	if len(ids) == 0 {
		return res, nil
	}

	for _, id := range ids {
		if _, err := s.queue.Enqueue(ctx, id, s.message); err != nil {
			res.EnqueueFailed++
			s.metrics.EnqueueFailed(ctx, "reminder")
			s.logger.Warn("Vote reminder not enqueued", zap.Int64("user_id", id), zap.Error(err))
			continue
		}
		res.Enqueued++
	}

	cleared, err := s.accounts.ClearReminders(ctx, ids, cutoff)
	res.Cleared = cleared
	s.metrics.RemindersCleared(ctx, cleared)
	if err != nil {
		return res, fmt.Errorf("failed to clear reminder flags: %w", err)
	}

	s.logger.Info("Vote reminder sweep finished",
		zap.Int("matched", res.Matched),
		zap.Int("enqueued", res.Enqueued),
		zap.Int("enqueue_failed", res.EnqueueFailed))
	return res, nil
}
