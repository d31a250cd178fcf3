package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	Server        ServerConfig        `mapstructure:"server"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Cluster       ClusterConfig       `mapstructure:"cluster"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Scylla        ScyllaConfig        `mapstructure:"scylla"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Clickhouse    ClickhouseConfig    `mapstructure:"clickhouse"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Bucketing     BucketingConfig     `mapstructure:"bucketing"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Authz         AuthzConfig         `mapstructure:"authz"`
	Stats         StatsConfig         `mapstructure:"stats"`
	Notify        NotifyConfig        `mapstructure:"notify"`
	Reminder      ReminderConfig      `mapstructure:"reminder"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Votes         VotesConfig         `mapstructure:"votes"`
	Secrets       SecretsConfig       `mapstructure:"secrets"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
	// OperatorAuthHash is the encoded argon2id hash of the bearer secret
	// the gateway sidecar and operators present. Required in production.
	OperatorAuthHash string `mapstructure:"operator_auth_hash"`
}

// TLSConfig serves the operator API over HTTPS. AutoCert requests
// certificates for Domain; otherwise CertFile/KeyFile are used, falling back
// to a self-signed certificate kept in CertDir.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	AutoCert bool   `mapstructure:"auto_cert"`
	Domain   string `mapstructure:"domain"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	CertDir  string `mapstructure:"cert_dir"`
	Email    string `mapstructure:"email"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ClusterConfig identifies this process among its peers. Index 0 is the
// primary cluster and owns the jobs that must run exactly once fleet-wide.
type ClusterConfig struct {
	Name  string `mapstructure:"name"`
	Index int    `mapstructure:"index"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`

	AccountCacheTTL time.Duration `mapstructure:"account_cache_ttl"`
}

type ScyllaConfig struct {
	Nodes    []string `mapstructure:"nodes"`
	Keyspace string   `mapstructure:"keyspace"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
}

type KafkaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Brokers    []string `mapstructure:"brokers"`
	AuditTopic string   `mapstructure:"audit_topic"`
}

type ElasticsearchConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	AuditIndex string `mapstructure:"audit_index"`
}

type ClickhouseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// GatewayConfig points at the sidecar that holds this cluster's platform
// connection.
type GatewayConfig struct {
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	BotUserID int64         `mapstructure:"bot_user_id"`
}

type BucketingConfig struct {
	UserBuckets int `mapstructure:"user_buckets"`
}

type RateLimitConfig struct {
	Backend  string        `mapstructure:"backend"`
	Scope    string        `mapstructure:"scope"`
	Capacity int           `mapstructure:"capacity"`
	Period   time.Duration `mapstructure:"period"`
}

type AuthzConfig struct {
	OnboardingCommand string        `mapstructure:"onboarding_command"`
	PromptTimeout     time.Duration `mapstructure:"prompt_timeout"`
	PromptDedupTTL    time.Duration `mapstructure:"prompt_dedup_ttl"`
	TermsURL          string        `mapstructure:"terms_url"`
}

type StatsConfig struct {
	PublishInterval time.Duration `mapstructure:"publish_interval"`
	LatencyCap      time.Duration `mapstructure:"latency_cap"`
	BotListInterval time.Duration `mapstructure:"bot_list_interval"`
	BotListURL      string        `mapstructure:"bot_list_url"`
	BotListToken    string        `mapstructure:"bot_list_token"`
}

type NotifyConfig struct {
	QueueKey        string        `mapstructure:"queue_key"`
	PopTimeout      time.Duration `mapstructure:"pop_timeout"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
}

type ReminderConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Cooldown time.Duration `mapstructure:"cooldown"`
	Message  string        `mapstructure:"message"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// VotesConfig authenticates the bot list vote webhook. WebhookAuthHash is
// the encoded argon2id hash of the shared Authorization secret; empty leaves
// the webhook unauthenticated.
type VotesConfig struct {
	WebhookAuthHash string `mapstructure:"webhook_auth_hash"`
}

// SecretsConfig enables KMS decryption of "kms:" prefixed secret values.
type SecretsConfig struct {
	KMSEnabled bool   `mapstructure:"kms_enabled"`
	KMSRegion  string `mapstructure:"kms_region"`
}

var defaults = map[string]interface{}{
	"environment":               "development",
	"server.port":               8080,
	"server.read_timeout":       15 * time.Second,
	"server.write_timeout":      15 * time.Second,
	"server.idle_timeout":       60 * time.Second,
	"server.tls.enabled":        false,
	"server.tls.auto_cert":      false,
	"server.tls.domain":         "",
	"server.tls.cert_file":      "",
	"server.tls.key_file":       "",
	"server.tls.cert_dir":       "./certs",
	"server.tls.email":          "",
	"server.operator_auth_hash": "",
	"logging.level":             "info",
	"logging.format":            "console",
	"cluster.name":              "cluster-0",
	"cluster.index":             0,
	"redis.url":                 "redis://localhost:6379/0",
	"redis.password":            "",
	"redis.db":                  0,
	"redis.pool_size":           20,
	"redis.account_cache_ttl":   5 * time.Minute,
	"scylla.nodes":              []string{"localhost:9042"},
	"scylla.keyspace":           "bot",
	"scylla.username":           "",
	"scylla.password":           "",
	"kafka.enabled":             false,
	"kafka.brokers":             []string{"localhost:9092"},
	"kafka.audit_topic":         "command-events",
	"elasticsearch.enabled":     false,
	"elasticsearch.url":         "http://localhost:9200",
	"elasticsearch.username":    "",
	"elasticsearch.password":    "",
	"elasticsearch.audit_index": "command-log",
	"clickhouse.enabled":        false,
	"clickhouse.url":            "http://localhost:8123",
	"clickhouse.username":       "default",
	"clickhouse.password":       "",
	"clickhouse.database":       "bot",
	"gateway.url":               "http://localhost:7070",
	"gateway.timeout":           5 * time.Second,
	"gateway.bot_user_id":       0,
	"bucketing.user_buckets":    64,
	"rate_limit.backend":        "memory",
	"rate_limit.scope":          "command",
	"rate_limit.capacity":       5,
	"rate_limit.period":         3 * time.Second,
	"authz.onboarding_command":  "start",
	"authz.prompt_timeout":      3 * time.Minute,
	"authz.prompt_dedup_ttl":    10 * time.Minute,
	"authz.terms_url":           "https://poketwo.net/terms",
	"stats.publish_interval":    time.Minute,
	"stats.latency_cap":         time.Second,
	"stats.bot_list_interval":   5 * time.Minute,
	"stats.bot_list_url":        "https://top.gg/api",
	"stats.bot_list_token":      "",
	"notify.queue_key":          "send_dm",
	"notify.pop_timeout":        5 * time.Second,
	"notify.delivery_timeout":   10 * time.Second,
	"reminder.interval":         15 * time.Second,
	"reminder.cooldown":         12 * time.Hour,
	"reminder.message":          "Your vote timer has refreshed. You can now vote again! https://top.gg/bot/716390085896962058/vote",
	"metrics.enabled":           true,
	"votes.webhook_auth_hash":   "",
	"secrets.kms_enabled":       false,
	"secrets.kms_region":        "us-east-1",
}

// LoadConfig reads an optional .env file, then environment variables. Nested
// keys map to upper-case variables with dots replaced by underscores, so
// rate_limit.capacity is RATE_LIMIT_CAPACITY.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the coordination layer cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Cluster.Name == "" {
		errs = append(errs, errors.New("cluster.name must be set"))
	}
	if c.Cluster.Index < 0 {
		errs = append(errs, errors.New("cluster.index must not be negative"))
	}
	if c.RateLimit.Capacity <= 0 {
		errs = append(errs, errors.New("rate_limit.capacity must be positive"))
	}
	if c.RateLimit.Period <= 0 {
		errs = append(errs, errors.New("rate_limit.period must be positive"))
	}
	if c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "redis" {
		errs = append(errs, fmt.Errorf("rate_limit.backend %q is not one of memory, redis", c.RateLimit.Backend))
	}
	if c.Bucketing.UserBuckets <= 0 {
		errs = append(errs, errors.New("bucketing.user_buckets must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"stats.publish_interval":  c.Stats.PublishInterval,
		"reminder.interval":       c.Reminder.Interval,
		"reminder.cooldown":       c.Reminder.Cooldown,
		"notify.pop_timeout":      c.Notify.PopTimeout,
		"redis.account_cache_ttl": c.Redis.AccountCacheTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.IsProduction() && c.Server.OperatorAuthHash == "" {
		errs = append(errs, errors.New("server.operator_auth_hash is required in production"))
	}
	if c.Server.TLS.Enabled && c.Server.TLS.AutoCert && c.Server.TLS.Domain == "" {
		errs = append(errs, errors.New("server.tls.domain is required with auto_cert"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsPrimary reports whether this cluster runs the fleet-wide singleton jobs.
func (c *Config) IsPrimary() bool {
	return c.Cluster.Index == 0
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
