package scheduler

import (
	"context"

	"go.uber.org/zap"

	"coord-service/internal/config"
	"coord-service/internal/models"
	"coord-service/internal/reminder"
)

type StatsPublisher interface {
	Publish(ctx context.Context) (models.ClusterSnapshot, error)
}

type ReminderSweeper interface {
	Run(ctx context.Context) (reminder.Result, error)
}

type BotListPoster interface {
	Run(ctx context.Context) error
}

// Pruner drops idle rate limit windows.
type Pruner interface {
	Prune() int
}

const (
	JobPublishStats = "publish-stats"
	JobRemindVotes  = "remind-votes"
	JobPostBotList  = "post-bot-list"
	JobPruneLimiter = "prune-limiter"
)

// Jobs holds the collaborators of the periodic tasks. Nil collaborators
// leave their job unscheduled.
type Jobs struct {
	Stats   StatsPublisher
	Sweep   ReminderSweeper
	BotList BotListPoster
	Limiter Pruner
	logger  *zap.Logger
}

func NewJobs(stats StatsPublisher, sweep ReminderSweeper, botList BotListPoster, limiter Pruner, logger *zap.Logger) *Jobs {
	return &Jobs{Stats: stats, Sweep: sweep, BotList: botList, Limiter: limiter, logger: logger}
}

// Register schedules this cluster's jobs. Only the primary cluster sweeps
// reminders and posts to the bot list, and only with a bot list token.
func (j *Jobs) Register(s *Scheduler, cfg *config.Config) error {
	jobs := []Job{}
	if j.Stats != nil {
		jobs = append(jobs, Job{Name: JobPublishStats, Spec: Every(cfg.Stats.PublishInterval), Immediate: true, Run: j.publishStats})
	}
	if j.Limiter != nil {
		jobs = append(jobs, Job{Name: JobPruneLimiter, Spec: Every(cfg.RateLimit.Period * 20), Run: j.pruneLimiter})
	}
	if cfg.IsPrimary() && cfg.Stats.BotListToken != "" {
		if j.Sweep != nil {
			jobs = append(jobs, Job{Name: JobRemindVotes, Spec: Every(cfg.Reminder.Interval), Immediate: true, Run: j.remindVotes})
		}
		if j.BotList != nil {
			jobs = append(jobs, Job{Name: JobPostBotList, Spec: Every(cfg.Stats.BotListInterval), Run: j.BotList.Run})
		}
	}
	for _, job := range jobs {
		if err := s.Add(job); err != nil {
			return err
		}
	}
	return nil
}

func (j *Jobs) publishStats(ctx context.Context) error {
	_, err := j.Stats.Publish(ctx)
	return err
}

func (j *Jobs) remindVotes(ctx context.Context) error {
	res, err := j.Sweep.Run(ctx)
	if err != nil {
		return err
	}
	if res.Matched > 0 {
		j.logger.Info("Vote reminders sent",
			zap.Int("matched", res.Matched),
			zap.Int("enqueued", res.Enqueued),
			zap.Int("enqueue_failed", res.EnqueueFailed),
			zap.Int("cleared", res.Cleared))
	}
	return nil
}

func (j *Jobs) pruneLimiter(context.Context) error {
	if n := j.Limiter.Prune(); n > 0 {
		j.logger.Debug("Pruned rate limit windows", zap.Int("count", n))
	}
	return nil
}
