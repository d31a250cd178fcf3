// Package scheduler runs the periodic coordination jobs on a cron.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one periodic task. Immediate jobs also run once when the scheduler
// starts instead of waiting for their first tick.
type Job struct {
	Name      string
	Spec      string
	Immediate bool
	Run       func(ctx context.Context) error
}

// Every builds the cron spec for a fixed interval.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	jobs    map[string]Job
	pending []Job
	started sync.WaitGroup
}

func New(logger *zap.Logger) *Scheduler {
	cronLogger := zapCronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]Job),
	}
}

// Add schedules job. Overlapping runs of the same job are skipped.
func (s *Scheduler) Add(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("job %s already scheduled", job.Name)
	}
	if _, err := s.cron.AddFunc(job.Spec, func() { s.run(job) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
	}
	s.jobs[job.Name] = job
	if job.Immediate {
		s.pending = append(s.pending, job)
	}
	s.logger.Info("Scheduled job", zap.String("job", job.Name), zap.String("schedule", job.Spec))
	return nil
}

// Start begins ticking and fires the immediate jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, job := range pending {
		s.started.Add(1)
		go func(job Job) {
			defer s.started.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("Job panicked", zap.String("job", job.Name), zap.Any("panic", r))
				}
			}()
			s.run(job)
		}(job)
	}
	s.cron.Start()
}

// RunNow runs the named job synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s is not scheduled", name)
	}
	return job.Run(s.ctx)
}

// Jobs lists the scheduled job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// Stop cancels running jobs and waits for them until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	s.started.Wait()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(job Job) {
	start := time.Now()
	if err := job.Run(s.ctx); err != nil {
		s.logger.Error("Job failed", zap.String("job", job.Name), zap.Error(err))
		return
	}
	s.logger.Debug("Job finished", zap.String("job", job.Name), zap.Duration("took", time.Since(start)))
}

type zapCronLogger struct {
	logger *zap.Logger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
