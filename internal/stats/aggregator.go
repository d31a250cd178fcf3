// Package stats publishes this cluster's shard and guild counts to the shared
// store and rolls up every cluster's snapshot into fleet-wide numbers.
package stats

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"coord-service/internal/metrics"
	"coord-service/internal/models"
	"coord-service/internal/platform"
)

// SnapshotStore merges snapshots keyed by cluster id. Merge keeps the highest
// guild count ever written and replaces the rest.
type SnapshotStore interface {
	Merge(ctx context.Context, snap models.ClusterSnapshot) (int64, error)
	Snapshots(ctx context.Context) ([]models.ClusterSnapshot, error)
}

type Aggregator struct {
	store      SnapshotStore
	status     platform.StatusSource
	clusterID  string
	latencyCap time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func NewAggregator(store SnapshotStore, status platform.StatusSource, clusterID string, latencyCap time.Duration, m *metrics.Metrics, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		store:      store,
		status:     status,
		clusterID:  clusterID,
		latencyCap: latencyCap,
		metrics:    m,
		logger:     logger,
	}
}

// Publish reads the live shard status and merges it into the shared store.
// A failed publish is reported once; the next interval repairs it.
func (a *Aggregator) Publish(ctx context.Context) (models.ClusterSnapshot, error) {
	status, err := a.status.Status(ctx)
	if err != nil {
		a.metrics.StatsPublished(ctx, err)
		return models.ClusterSnapshot{}, fmt.Errorf("failed to read shard status: %w", err)
	}

	snap := a.Snapshot(status)
	if err := a.PublishSnapshot(ctx, snap); err != nil {
		return snap, err
	}
	return snap, nil
}

// Snapshot converts shard status into this cluster's snapshot. Latency is the
// sum over shards, capped.
func (a *Aggregator) Snapshot(status platform.ShardStatus) models.ClusterSnapshot {
	var latency float64
	for _, l := range status.Latencies {
		latency += l
	}
	if limit := a.latencyCap.Seconds(); limit > 0 && latency > limit {
		latency = limit
	}
	return models.ClusterSnapshot{
		ClusterID: a.clusterID,
		Shards:    status.Shards,
		Guilds:    status.Guilds,
		Latency:   latency,
	}
}

func (a *Aggregator) PublishSnapshot(ctx context.Context, snap models.ClusterSnapshot) error {
	recorded, err := a.store.Merge(ctx, snap)
	a.metrics.StatsPublished(ctx, err)
	if err != nil {
		return fmt.Errorf("failed to publish snapshot for %s: %w", snap.ClusterID, err)
	}

	a.logger.Debug("Cluster snapshot published",
		zap.String("cluster", snap.ClusterID),
		zap.Int64("guilds", snap.Guilds),
		zap.Int64("recorded_guilds", recorded),
		zap.Int64("shards", snap.Shards),
		zap.Float64("latency", snap.Latency))
	return nil
}

// Rollup sums every known snapshot. Clusters mid-publish may be seen in
// their previous state.
func (a *Aggregator) Rollup(ctx context.Context) (models.GlobalStats, error) {
	snaps, err := a.store.Snapshots(ctx)
	if err != nil {
		return models.GlobalStats{}, fmt.Errorf("failed to read snapshots: %w", err)
	}
	return Sum(snaps), nil
}

func Sum(snaps []models.ClusterSnapshot) models.GlobalStats {
	var g models.GlobalStats
	for _, s := range snaps {
		g.Guilds += s.Guilds
		g.Shards += s.Shards
		g.Latency += s.Latency
	}
	g.Clusters = len(snaps)
	return g
}
