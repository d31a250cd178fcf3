package redis

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"coord-service/internal/client"
	"coord-service/internal/models"
	"coord-service/internal/util"
)

const (
	statsKeyPrefix   = "stats:cluster:"
	statsClustersSet = "stats:clusters"
)

// mergeSnapshotScript keeps the highest guild count ever written for a
// cluster and replaces shards and latency. Running it twice with the same
// arguments, or with arguments out of order, never lowers the guild count.
var mergeSnapshotScript = goredis.NewScript(`
local key = KEYS[1]
local guilds = tonumber(ARGV[1])
local current = redis.call('HGET', key, 'guilds')
if (not current) or guilds > tonumber(current) then
	redis.call('HSET', key, 'guilds', guilds)
end
redis.call('HSET', key, 'shards', ARGV[2], 'latency', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[4])
return tonumber(redis.call('HGET', key, 'guilds'))
`)

// StatsStore holds one hash per cluster plus the set of known cluster ids.
type StatsStore struct {
	client *client.RedisClient
}

func NewStatsStore(client *client.RedisClient) *StatsStore {
	return &StatsStore{client: client}
}

// Merge writes snap with max-on-guilds, replace-on-shards/latency and returns
// the guild count now recorded for the cluster.
func (s *StatsStore) Merge(ctx context.Context, snap models.ClusterSnapshot) (int64, error) {
	res, err := s.client.RunScript(ctx, mergeSnapshotScript,
		[]string{statsKeyPrefix + snap.ClusterID, statsClustersSet},
		snap.Guilds,
		snap.Shards,
		strconv.FormatFloat(snap.Latency, 'f', -1, 64),
		snap.ClusterID,
	)
	if err != nil {
		util.Error("Failed to merge cluster snapshot",
			zap.String("cluster_id", snap.ClusterID),
			zap.Error(err))
		return 0, fmt.Errorf("failed to merge cluster snapshot: %w", err)
	}

	recorded, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected merge result type %T", res)
	}
	return recorded, nil
}

// Snapshots reads every known cluster's snapshot. Clusters whose hash has
// vanished are skipped.
func (s *StatsStore) Snapshots(ctx context.Context) ([]models.ClusterSnapshot, error) {
	ids, err := s.client.SMembers(ctx, statsClustersSet)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, statsKeyPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read cluster snapshots: %w", err)
	}

	snaps := make([]models.ClusterSnapshot, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		snap, err := parseSnapshot(id, fields)
		if err != nil {
			util.Warn("Skipping malformed cluster snapshot",
				zap.String("cluster_id", id),
				zap.Error(err))
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func parseSnapshot(id string, fields map[string]string) (models.ClusterSnapshot, error) {
	snap := models.ClusterSnapshot{ClusterID: id}
	var err error
	if snap.Guilds, err = strconv.ParseInt(fields["guilds"], 10, 64); err != nil {
		return snap, fmt.Errorf("guilds: %w", err)
	}
	if snap.Shards, err = strconv.ParseInt(fields["shards"], 10, 64); err != nil {
		return snap, fmt.Errorf("shards: %w", err)
	}
	if snap.Latency, err = strconv.ParseFloat(fields["latency"], 64); err != nil {
		return snap, fmt.Errorf("latency: %w", err)
	}
	return snap, nil
}
