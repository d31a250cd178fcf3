package models

import "time"

// ClusterSnapshot is what one cluster reports about itself each publish
// interval. Latency is in seconds, summed over the cluster's shards.
type ClusterSnapshot struct {
	ClusterID string  `json:"cluster_id"`
	Shards    int64   `json:"shards"`
	Guilds    int64   `json:"guilds"`
	Latency   float64 `json:"latency"`
}

// GlobalStats is the fleet-wide rollup of all known snapshots.
type GlobalStats struct {
	Guilds   int64   `json:"servers"`
	Shards   int64   `json:"shards"`
	Latency  float64 `json:"latency"`
	Clusters int     `json:"clusters"`
}

// AverageLatency divides summed latency by shard count.
func (g GlobalStats) AverageLatency() time.Duration {
	if g.Shards == 0 {
		return 0
	}
	return time.Duration(g.Latency / float64(g.Shards) * float64(time.Second))
}
