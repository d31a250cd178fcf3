package stats

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"coord-service/internal/models"
)

// BotListClient reports server and shard counts to the bot list.
type BotListClient struct {
	baseURL    string
	token      string
	botID      int64
	httpClient *http.Client
	backoff    func() retry.Backoff
}

func NewBotListClient(baseURL, token string, botID int64) *BotListClient {
	return &BotListClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		botID:      botID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(2, retry.NewExponential(time.Second))
		},
	}
}

// Post sends the counts as a form. Transport errors and 5xx answers are
// retried; other statuses are returned as-is.
func (c *BotListClient) Post(ctx context.Context, g models.GlobalStats) error {
	endpoint := fmt.Sprintf("%s/bots/%d/stats", c.baseURL, c.botID)
	form := url.Values{
		"server_count": {strconv.FormatInt(g.Guilds, 10)},
		"shard_count":  {strconv.FormatInt(g.Shards, 10)},
	}.Encode()

	return retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("bot list request failed: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("bot list returned status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("bot list returned status %d", resp.StatusCode)
		}
		return nil
	})
}

type Reporter interface {
	Post(ctx context.Context, g models.GlobalStats) error
}

// History keeps each posted rollup.
type History interface {
	Record(ctx context.Context, at time.Time, g models.GlobalStats) error
}

type Roller interface {
	Rollup(ctx context.Context) (models.GlobalStats, error)
}

// Poster pushes the fleet-wide rollup to the bot list and appends it to the
// history when one is configured.
type Poster struct {
	roller   Roller
	reporter Reporter
	history  History
	now      func() time.Time
	logger   *zap.Logger
}

func NewPoster(roller Roller, reporter Reporter, history History, logger *zap.Logger) *Poster {
	return &Poster{
		roller:   roller,
		reporter: reporter,
		history:  history,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

func (p *Poster) Run(ctx context.Context) error {
	g, err := p.roller.Rollup(ctx)
	if err != nil {
		return err
	}

	var errs []error
	if err := p.reporter.Post(ctx, g); err != nil {
		errs = append(errs, fmt.Errorf("failed to post stats: %w", err))
	}
	if p.history != nil {
		if err := p.history.Record(ctx, p.now(), g); err != nil {
			errs = append(errs, fmt.Errorf("failed to record stats history: %w", err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	p.logger.Info("Posted bot list stats",
		zap.Int64("servers", g.Guilds),
		zap.Int64("shards", g.Shards))
	return nil
}
