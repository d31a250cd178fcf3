package stats

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"coord-service/internal/models"
	"coord-service/internal/platform"
	redisrepo "coord-service/internal/repository/redis"
	"coord-service/internal/testutil"
)

type stubStatus struct {
	status platform.ShardStatus
	err    error
}

func (s *stubStatus) Status(context.Context) (platform.ShardStatus, error) {
	return s.status, s.err
}

func newTestAggregator(t *testing.T, clusterID string, status platform.StatusSource) (*Aggregator, *redisrepo.StatsStore) {
	t.Helper()
	rc, _ := testutil.NewRedis(t)
	store := redisrepo.NewStatsStore(rc)
	return NewAggregator(store, status, clusterID, time.Second, nil, zap.NewNop()), store
}

func TestAggregator_RollupSums(t *testing.T) {
	ctx := context.Background()
	agg, _ := newTestAggregator(t, "A", nil)

	require.NoError(t, agg.PublishSnapshot(ctx, models.ClusterSnapshot{ClusterID: "A", Guilds: 10, Shards: 2, Latency: 4}))
	require.NoError(t, agg.PublishSnapshot(ctx, models.ClusterSnapshot{ClusterID: "B", Guilds: 20, Shards: 3, Latency: 6}))

	g, err := agg.Rollup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(30), g.Guilds)
	assert.Equal(t, int64(5), g.Shards)
	assert.InDelta(t, 10.0, g.Latency, 1e-9)
	assert.Equal(t, 2, g.Clusters)
}

func TestAggregator_RollupEmpty(t *testing.T) {
	agg, _ := newTestAggregator(t, "A", nil)

	g, err := agg.Rollup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.GlobalStats{}, g)
}

func TestAggregator_PublishKeepsMaxGuilds(t *testing.T) {
	ctx := context.Background()
	status := &stubStatus{}
	agg, _ := newTestAggregator(t, "cluster-0", status)

	for _, guilds := range []int64{5, 3, 7, 6} {
		status.status = platform.ShardStatus{Guilds: guilds, Shards: 2, Latencies: []float64{0.1, 0.2}}
		_, err := agg.Publish(ctx)
		require.NoError(t, err)
	}

	g, err := agg.Rollup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), g.Guilds)
	assert.Equal(t, int64(2), g.Shards)
	assert.InDelta(t, 0.3, g.Latency, 1e-9)
}

func TestAggregator_LatencyIsCapped(t *testing.T) {
	agg, _ := newTestAggregator(t, "cluster-0", nil)

	snap := agg.Snapshot(platform.ShardStatus{Guilds: 1, Shards: 3, Latencies: []float64{0.6, 0.7, 0.4}})
	assert.Equal(t, 1.0, snap.Latency)
	assert.Equal(t, "cluster-0", snap.ClusterID)
}

func TestAggregator_PublishStatusFailure(t *testing.T) {
	agg, _ := newTestAggregator(t, "cluster-0", &stubStatus{err: errors.New("gateway down")})

	_, err := agg.Publish(context.Background())
	assert.Error(t, err)
}

func TestSum(t *testing.T) {
	g := Sum([]models.ClusterSnapshot{
		{ClusterID: "A", Guilds: 10, Shards: 2, Latency: 4},
		{ClusterID: "B", Guilds: 20, Shards: 3, Latency: 6},
	})
	assert.Equal(t, models.GlobalStats{Guilds: 30, Shards: 5, Latency: 10, Clusters: 2}, g)
	assert.Equal(t, 2*time.Second, g.AverageLatency())
}

func TestBotListClient_Post(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/bots/716390085896962058/stats", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "30", r.PostForm.Get("server_count"))
		assert.Equal(t, "5", r.PostForm.Get("shard_count"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewBotListClient(srv.URL, "secret", 716390085896962058)
	c.backoff = func() retry.Backoff { return retry.WithMaxRetries(2, retry.NewConstant(time.Millisecond)) }

	require.NoError(t, c.Post(context.Background(), models.GlobalStats{Guilds: 30, Shards: 5}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestBotListClient_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewBotListClient(srv.URL, "bad", 1)
	c.backoff = func() retry.Backoff { return retry.WithMaxRetries(2, retry.NewConstant(time.Millisecond)) }

	assert.Error(t, c.Post(context.Background(), models.GlobalStats{}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

type fakeRoller struct{ g models.GlobalStats }

func (f fakeRoller) Rollup(context.Context) (models.GlobalStats, error) { return f.g, nil }

type fakeReporter struct {
	posted []models.GlobalStats
	err    error
}

func (f *fakeReporter) Post(_ context.Context, g models.GlobalStats) error {
	f.posted = append(f.posted, g)
	return f.err
}

type fakeHistory struct{ recorded []models.GlobalStats }

func (f *fakeHistory) Record(_ context.Context, _ time.Time, g models.GlobalStats) error {
	f.recorded = append(f.recorded, g)
	return nil
}

func TestPoster_PostsAndRecords(t *testing.T) {
	g := models.GlobalStats{Guilds: 30, Shards: 5, Latency: 1, Clusters: 2}
	reporter := &fakeReporter{}
	history := &fakeHistory{}

	require.NoError(t, NewPoster(fakeRoller{g}, reporter, history, zap.NewNop()).Run(context.Background()))
	assert.Equal(t, []models.GlobalStats{g}, reporter.posted)
	assert.Equal(t, []models.GlobalStats{g}, history.recorded)
}

func TestPoster_RecordsEvenWhenPostFails(t *testing.T) {
	reporter := &fakeReporter{err: errors.New("503")}
	history := &fakeHistory{}

	err := NewPoster(fakeRoller{}, reporter, history, zap.NewNop()).Run(context.Background())
	assert.Error(t, err)
	assert.Len(t, history.recorded, 1)
}
