package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"coord-service/internal/metrics"
	"coord-service/internal/models"
	"coord-service/internal/platform"
)

// Source is the blocking side of the queue.
type Source interface {
	Pop(ctx context.Context) (models.Envelope, error)
}

// Consumer drains the queue for one cluster. Deliveries run detached from the
// loop so a slow recipient never holds up the next pop.
type Consumer struct {
	source          Source
	messenger       platform.Messenger
	metrics         *metrics.Metrics
	deliveryTimeout time.Duration
	logger          *zap.Logger

	newBackoff func() retry.Backoff
	inflight   sync.WaitGroup
}

func NewConsumer(source Source, messenger platform.Messenger, m *metrics.Metrics, deliveryTimeout time.Duration, logger *zap.Logger) *Consumer {
	return &Consumer{
		source:          source,
		messenger:       messenger,
		metrics:         m,
		deliveryTimeout: deliveryTimeout,
		logger:          logger,
		newBackoff: func() retry.Backoff {
			return retry.WithCappedDuration(10*time.Second, retry.NewExponential(100*time.Millisecond))
		},
	}
}

// Run pops until ctx is cancelled. Store errors are retried with backoff; the
// loop never exits on its own.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Notification consumer started")
	defer c.logger.Info("Notification consumer stopped")

	backoff := c.newBackoff()
	for {
		if ctx.Err() != nil {
			return nil
		}

		env, err := c.source.Pop(ctx)
		switch {
		case err == nil:
			backoff = c.newBackoff()
			c.inflight.Add(1)
			go c.deliver(context.WithoutCancel(ctx), env)
		case errors.Is(err, ErrEmpty):
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrMalformed):
			c.logger.Warn("Dropping malformed notification", zap.Error(err))
			c.metrics.DeliveryDropped(ctx, "malformed")
		default:
			wait, _ := backoff.Next()
			c.logger.Error("Notification pop failed", zap.Duration("retry_in", wait), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}
	}
}

// Wait blocks until every in-flight delivery has finished.
func (c *Consumer) Wait() {
	c.inflight.Wait()
}

func (c *Consumer) deliver(ctx context.Context, env models.Envelope) {
	defer c.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Notification delivery panicked",
				zap.String("envelope_id", env.ID),
				zap.String("panic", fmt.Sprint(r)))
			c.metrics.DeliveryDropped(ctx, "panic")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.deliveryTimeout)
	defer cancel()

	err := c.messenger.SendDirect(ctx, env.RecipientID, env.Payload)
	switch {
	case err == nil:
		c.metrics.DeliverySent(ctx)
	case errors.Is(err, platform.ErrUnreachable):
		c.logger.Debug("Recipient not reachable from this cluster, dropping",
			zap.String("envelope_id", env.ID),
			zap.Int64("recipient_id", env.RecipientID))
		c.metrics.DeliveryDropped(ctx, "unreachable")
	default:
		c.logger.Warn("Notification delivery failed, dropping",
			zap.String("envelope_id", env.ID),
			zap.Int64("recipient_id", env.RecipientID),
			zap.Error(err))
		c.metrics.DeliveryDropped(ctx, "error")
	}
}
