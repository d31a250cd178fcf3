package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.RateLimit.Capacity)
	assert.Equal(t, 3*time.Second, cfg.RateLimit.Period)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, time.Minute, cfg.Stats.PublishInterval)
	assert.Equal(t, 15*time.Second, cfg.Reminder.Interval)
	assert.Equal(t, 12*time.Hour, cfg.Reminder.Cooldown)
	assert.Equal(t, "send_dm", cfg.Notify.QueueKey)
	assert.Equal(t, "start", cfg.Authz.OnboardingCommand)
	assert.True(t, cfg.IsPrimary())
	assert.Equal(t, ":8080", cfg.GetServerAddress())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "7")
	t.Setenv("RATE_LIMIT_PERIOD", "10s")
	t.Setenv("CLUSTER_NAME", "cluster-3")
	t.Setenv("CLUSTER_INDEX", "3")
	t.Setenv("GATEWAY_BOT_USER_ID", "716390085896962058")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.RateLimit.Capacity)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Period)
	assert.Equal(t, "cluster-3", cfg.Cluster.Name)
	assert.False(t, cfg.IsPrimary())
	assert.Equal(t, int64(716390085896962058), cfg.Gateway.BotUserID)
}

func TestLoadConfig_RejectsInvalid(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_BACKEND", "memcached")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_limit.capacity")
	assert.Contains(t, err.Error(), "memcached")
}

func TestLoadConfig_ProductionRequiresOperatorSecret(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.operator_auth_hash")

	t.Setenv("SERVER_OPERATOR_AUTH_HASH", "argon2id$v=19$m=19456,t=2,p=1$c2FsdA$a2V5")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Server.OperatorAuthHash)
	assert.Equal(t, 5*time.Minute, cfg.Redis.AccountCacheTTL)
}
