package stats

import (
	"context"
	"fmt"
	"time"

	"coord-service/internal/client"
	"coord-service/internal/models"
)

const createHistoryTable = `
CREATE TABLE IF NOT EXISTS stats_rollups (
    recorded_at DateTime64(3, 'UTC'),
    servers     Int64,
    shards      Int64,
    latency     Float64,
    clusters    UInt16
) ENGINE = MergeTree
ORDER BY recorded_at
TTL toDateTime(recorded_at) + INTERVAL 1 YEAR`

const insertHistoryRow = `INSERT INTO stats_rollups (recorded_at, servers, shards, latency, clusters)`

// ClickHouseHistory appends rollups to a MergeTree table.
type ClickHouseHistory struct {
	client *client.ClickHouseClient
}

// NewClickHouseHistory creates the table when it is missing.
func NewClickHouseHistory(ctx context.Context, c *client.ClickHouseClient) (*ClickHouseHistory, error) {
	if err := c.Exec(ctx, createHistoryTable); err != nil {
		return nil, fmt.Errorf("failed to create stats history table: %w", err)
	}
	return &ClickHouseHistory{client: c}, nil
}

func (h *ClickHouseHistory) Record(ctx context.Context, at time.Time, g models.GlobalStats) error {
	return h.client.BatchInsert(ctx, insertHistoryRow, [][]interface{}{
		{at, g.Guilds, g.Shards, g.Latency, uint16(g.Clusters)},
	})
}

// Recent returns the newest rollups first.
func (h *ClickHouseHistory) Recent(ctx context.Context, limit int) ([]HistoryPoint, error) {
	rows, err := h.client.QueryRows(ctx,
		`SELECT recorded_at, servers, shards, latency, clusters FROM stats_rollups ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats history: %w", err)
	}
	defer rows.Close()

	var points []HistoryPoint
	for rows.Next() {
		var (
			p        HistoryPoint
			clusters uint16
		)
		if err := rows.Scan(&p.RecordedAt, &p.Stats.Guilds, &p.Stats.Shards, &p.Stats.Latency, &clusters); err != nil {
			return nil, fmt.Errorf("failed to scan stats history: %w", err)
		}
		p.Stats.Clusters = int(clusters)
		points = append(points, p)
	}
	return points, rows.Err()
}

type HistoryPoint struct {
	RecordedAt time.Time          `json:"recorded_at"`
	Stats      models.GlobalStats `json:"stats"`
}
