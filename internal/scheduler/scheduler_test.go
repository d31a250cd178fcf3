package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"coord-service/internal/config"
	"coord-service/internal/models"
	"coord-service/internal/reminder"
)

type countingPublisher struct{ calls atomic.Int32 }

func (p *countingPublisher) Publish(context.Context) (models.ClusterSnapshot, error) {
	p.calls.Add(1)
	return models.ClusterSnapshot{}, nil
}

type countingSweep struct{ calls atomic.Int32 }

func (s *countingSweep) Run(context.Context) (reminder.Result, error) {
	s.calls.Add(1)
	return reminder.Result{Matched: 1, Enqueued: 1, Cleared: 1}, nil
}

type failingPoster struct{ calls atomic.Int32 }

func (p *failingPoster) Run(context.Context) error {
	p.calls.Add(1)
	return errors.New("bot list down")
}

type countingPruner struct{ calls atomic.Int32 }

func (p *countingPruner) Prune() int {
	p.calls.Add(1)
	return 2
}

func testConfig(index int, token string) *config.Config {
	cfg := &config.Config{}
	cfg.Cluster.Index = index
	cfg.Stats.PublishInterval = time.Minute
	cfg.Stats.BotListInterval = 5 * time.Minute
	cfg.Stats.BotListToken = token
	cfg.Reminder.Interval = 15 * time.Second
	cfg.RateLimit.Period = 3 * time.Second
	return cfg
}

func newJobs() (*Jobs, *countingPublisher, *countingSweep, *failingPoster, *countingPruner) {
	pub, sweep, poster, pruner := &countingPublisher{}, &countingSweep{}, &failingPoster{}, &countingPruner{}
	return NewJobs(pub, sweep, poster, pruner, zap.NewNop()), pub, sweep, poster, pruner
}

func jobNames(s *Scheduler) []string {
	names := s.Jobs()
	sort.Strings(names)
	return names
}

func TestJobs_PrimaryWithTokenRunsSingletons(t *testing.T) {
	jobs, _, _, _, _ := newJobs()
	s := New(zap.NewNop())
	require.NoError(t, jobs.Register(s, testConfig(0, "secret")))

	assert.Equal(t, []string{JobPostBotList, JobPruneLimiter, JobPublishStats, JobRemindVotes}, jobNames(s))
}

func TestJobs_SecondaryOnlyPublishes(t *testing.T) {
	jobs, _, _, _, _ := newJobs()
	s := New(zap.NewNop())
	require.NoError(t, jobs.Register(s, testConfig(1, "secret")))

	assert.Equal(t, []string{JobPruneLimiter, JobPublishStats}, jobNames(s))
}

func TestJobs_PrimaryWithoutTokenSkipsSingletons(t *testing.T) {
	jobs, _, _, _, _ := newJobs()
	s := New(zap.NewNop())
	require.NoError(t, jobs.Register(s, testConfig(0, "")))

	assert.Equal(t, []string{JobPruneLimiter, JobPublishStats}, jobNames(s))
}

func TestScheduler_RunNow(t *testing.T) {
	jobs, pub, sweep, poster, pruner := newJobs()
	s := New(zap.NewNop())
	require.NoError(t, jobs.Register(s, testConfig(0, "secret")))

	require.NoError(t, s.RunNow(JobPublishStats))
	require.NoError(t, s.RunNow(JobRemindVotes))
	require.NoError(t, s.RunNow(JobPruneLimiter))
	assert.EqualError(t, s.RunNow(JobPostBotList), "bot list down")
	assert.Error(t, s.RunNow("nope"))

	assert.Equal(t, int32(1), pub.calls.Load())
	assert.Equal(t, int32(1), sweep.calls.Load())
	assert.Equal(t, int32(1), poster.calls.Load())
	assert.Equal(t, int32(1), pruner.calls.Load())
}

func TestScheduler_RejectsDuplicatesAndBadSpecs(t *testing.T) {
	s := New(zap.NewNop())
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add(Job{Name: "a", Spec: Every(time.Minute), Run: noop}))
	assert.Error(t, s.Add(Job{Name: "a", Spec: Every(time.Minute), Run: noop}))
	assert.Error(t, s.Add(Job{Name: "b", Spec: "not a schedule", Run: noop}))
}

func TestScheduler_ImmediateJobsRunOnStart(t *testing.T) {
	s := New(zap.NewNop())
	var ran atomic.Int32
	require.NoError(t, s.Add(Job{Name: "now", Spec: Every(time.Hour), Immediate: true, Run: func(context.Context) error {
		ran.Add(1)
		return nil
	}}))
	require.NoError(t, s.Add(Job{Name: "later", Spec: Every(time.Hour), Run: func(context.Context) error {
		t.Error("later should not run")
		return nil
	}}))

	s.Start()
	assert.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestScheduler_RecoversPanickingJob(t *testing.T) {
	s := New(zap.NewNop())
	var after atomic.Int32
	require.NoError(t, s.Add(Job{Name: "panics", Spec: "@every 1s", Run: func(context.Context) error {
		panic("boom")
	}}))
	require.NoError(t, s.Add(Job{Name: "ticks", Spec: "@every 1s", Run: func(context.Context) error {
		after.Add(1)
		return nil
	}}))

	s.Start()
	assert.Eventually(t, func() bool { return after.Load() >= 2 }, 4*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
