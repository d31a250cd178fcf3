package factory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"coord-service/internal/audit"
	"coord-service/internal/authz"
	"coord-service/internal/bucketing"
	"coord-service/internal/client"
	"coord-service/internal/command"
	"coord-service/internal/config"
	"coord-service/internal/handler"
	"coord-service/internal/hashing"
	"coord-service/internal/metrics"
	"coord-service/internal/notify"
	"coord-service/internal/platform"
	"coord-service/internal/ratelimit"
	"coord-service/internal/reminder"
	redisrepo "coord-service/internal/repository/redis"
	"coord-service/internal/repository/scylla"
	"coord-service/internal/scheduler"
	"coord-service/internal/secrets"
	"coord-service/internal/service"
	"coord-service/internal/stats"
	"coord-service/internal/tls"
	"coord-service/internal/util"
)

const auditWriteTimeout = 5 * time.Second

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	gateway          *platform.GatewayClient

	bucketingManager *bucketing.BucketingManager
	metrics          *metrics.Metrics

	accounts    *service.AccountService
	limiter     ratelimit.Limiter
	pipeline    *authz.Pipeline
	recorder    *audit.Recorder
	dispatcher  *command.Dispatcher
	queue       *notify.RedisQueue
	consumer    *notify.Consumer
	aggregator  *stats.Aggregator
	history     *stats.ClickHouseHistory
	commandLog  *audit.ElasticsearchSink
	scheduler   *scheduler.Scheduler
	coord       *handler.CoordHandler
	voteChecker *hashing.SecretVerifier
	opChecker   *hashing.SecretVerifier

	closeOnce sync.Once
}

// NewFactory resolves secrets, connects every backend and builds the
// coordination components on top of them.
func NewFactory(ctx context.Context, cfg *config.Config) (*Factory, error) {
	f := &Factory{config: cfg}

	if err := f.resolveSecrets(ctx); err != nil {
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}

	if cfg.Server.TLS.Enabled {
		f.tlsManager = tls.NewTLSManager(cfg.Server.TLS)
	}

	if err := f.initializeClients(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := f.initializeComponents(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("cluster", cfg.Cluster.Name),
		util.Bool("primary", cfg.IsPrimary()),
		util.Bool("tls_enabled", cfg.Server.TLS.Enabled),
		util.Bool("kms_enabled", cfg.Secrets.KMSEnabled),
	)
	return f, nil
}

func (f *Factory) resolveSecrets(ctx context.Context) error {
	resolver := secrets.NewResolver(nil)
	if f.config.Secrets.KMSEnabled {
		var err error
		if resolver, err = secrets.NewKMSResolver(ctx, f.config.Secrets.KMSRegion); err != nil {
			return err
		}
	}
	return resolver.ResolveAll(ctx, map[string]*string{
		"stats.bot_list_token":   &f.config.Stats.BotListToken,
		"redis.password":         &f.config.Redis.Password,
		"scylla.password":        &f.config.Scylla.Password,
		"elasticsearch.password": &f.config.Elasticsearch.Password,
		"clickhouse.password":    &f.config.Clickhouse.Password,
	})
}

// initializeClients initializes all external service clients with health checks.
// Redis and Scylla are required; the audit and history backends degrade to
// disabled outside production.
func (f *Factory) initializeClients(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rc, err := client.NewRedisClient(f.config.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = rc
	if err := rc.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	util.Info("Redis client initialized and healthy")

	sc, err := scylla.NewScyllaClient(f.config)
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = sc
	util.Info("ScyllaDB client initialized")

	var optionalErrors []error

	if f.config.Kafka.Enabled {
		f.kafkaProducer = client.NewKafkaProducer(f.config.Kafka, f.config.IsDevelopment())
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			optionalErrors = append(optionalErrors, fmt.Errorf("kafka health check: %w", err))
		} else {
			util.Info("Kafka producer initialized")
		}
	}

	if f.config.Elasticsearch.Enabled {
		if es, err := client.NewElasticsearchClient(f.config.Elasticsearch, f.config.IsDevelopment()); err != nil {
			optionalErrors = append(optionalErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = es
			if err := es.HealthCheck(ctx); err != nil {
				optionalErrors = append(optionalErrors, fmt.Errorf("elasticsearch health check: %w", err))
			} else {
				util.Info("Elasticsearch client initialized and healthy")
			}
		}
	}

	if f.config.Clickhouse.Enabled {
		if ch, err := client.NewClickHouseClient(f.config.Clickhouse, f.config.IsProduction()); err != nil {
			optionalErrors = append(optionalErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = ch
			util.Info("ClickHouse client initialized")
		}
	}

	if len(optionalErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", optionalErrors)
		}
		for _, err := range optionalErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	f.gateway = platform.NewGatewayClient(f.config.Gateway.URL, f.config.Gateway.Timeout)
	return nil
}

func (f *Factory) initializeComponents(ctx context.Context) error {
	cfg := f.config

	m, err := metrics.New(cfg.Metrics.Enabled)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	f.metrics = m

	f.bucketingManager = bucketing.NewBucketingManager(cfg.Bucketing.UserBuckets)
	accountRepo := scylla.NewAccountRepository(f.scyllaClient, f.bucketingManager)
	f.accounts = service.NewAccountService(accountRepo, redisrepo.NewAccountCache(f.redisClient, f.config.Redis.AccountCacheTTL))

	rateLimitCache := redisrepo.NewRateLimitCache(f.redisClient)
	memoryLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.Period)
	var pruner scheduler.Pruner = memoryLimiter
	f.limiter = memoryLimiter
	if cfg.RateLimit.Backend == "redis" {
		f.limiter = ratelimit.NewRedisLimiter(rateLimitCache, cfg.RateLimit.Capacity, cfg.RateLimit.Period)
		pruner = nil
	}

	f.pipeline = authz.NewPipeline(authz.Config{
		BotUserID:         cfg.Gateway.BotUserID,
		OnboardingCommand: cfg.Authz.OnboardingCommand,
		PromptTimeout:     cfg.Authz.PromptTimeout,
		PromptDedupTTL:    cfg.Authz.PromptDedupTTL,
		TermsURL:          cfg.Authz.TermsURL,
	}, f.accounts, f.gateway, f.gateway, rateLimitCache, util.Named("authz"))

	var sinks []audit.Sink
	if f.kafkaProducer != nil {
		sinks = append(sinks, audit.NewKafkaSink(f.kafkaProducer))
	}
	if f.esClient != nil {
		f.commandLog = audit.NewElasticsearchSink(f.esClient, cfg.Elasticsearch.AuditIndex)
		sinks = append(sinks, f.commandLog)
	}
	f.recorder = audit.NewRecorder(util.Named("audit"), auditWriteTimeout, sinks...)

	f.aggregator = stats.NewAggregator(redisrepo.NewStatsStore(f.redisClient), f.gateway,
		cfg.Cluster.Name, cfg.Stats.LatencyCap, f.metrics, util.Named("stats"))

	if f.clickhouseClient != nil {
		history, err := stats.NewClickHouseHistory(ctx, f.clickhouseClient)
		if err != nil {
			if cfg.IsProduction() {
				return fmt.Errorf("clickhouse history: %w", err)
			}
			util.Warn("Stats history disabled", util.ErrorField(err))
		} else {
			f.history = history
		}
	}

	registry := command.NewRegistry()
	if err := command.RegisterBuiltins(registry, command.Deps{
		Accounts:      f.accounts,
		Stats:         f.aggregator,
		Latency:       f.gateway,
		Prompter:      f.gateway,
		PromptTimeout: cfg.Authz.PromptTimeout,
		TermsURL:      cfg.Authz.TermsURL,
	}); err != nil {
		return err
	}
	f.dispatcher = command.NewDispatcher(command.DispatcherConfig{
		Scope:   cfg.RateLimit.Scope,
		Cluster: cfg.Cluster.Name,
	}, registry, f.limiter, f.pipeline, f.gateway, f.recorder, f.metrics, util.Named("commands"))

	f.queue = notify.NewRedisQueue(f.redisClient, cfg.Notify.QueueKey, cfg.Notify.PopTimeout, cfg.Cluster.Name)
	f.consumer = notify.NewConsumer(f.queue, f.gateway, f.metrics, cfg.Notify.DeliveryTimeout, util.Named("notify"))

	sweep := reminder.NewSweep(f.accounts, f.queue, f.metrics, cfg.Reminder.Cooldown, cfg.Reminder.Message, util.Named("reminder"))
	var history stats.History
	if f.history != nil {
		history = f.history
	}
	poster := stats.NewPoster(f.aggregator,
		stats.NewBotListClient(cfg.Stats.BotListURL, cfg.Stats.BotListToken, cfg.Gateway.BotUserID),
		history, util.Named("botlist"))

	f.scheduler = scheduler.New(util.Named("scheduler"))
	jobs := scheduler.NewJobs(f.aggregator, sweep, poster, pruner, util.Named("jobs"))
	if err := jobs.Register(f.scheduler, cfg); err != nil {
		return err
	}

	if cfg.Votes.WebhookAuthHash != "" {
		if f.voteChecker, err = hashing.NewSecretVerifier(cfg.Votes.WebhookAuthHash); err != nil {
			return fmt.Errorf("votes.webhook_auth_hash: %w", err)
		}
	} else {
		util.Warn("Vote webhook is unauthenticated; set VOTES_WEBHOOK_AUTH_HASH")
	}
	if cfg.Server.OperatorAuthHash != "" {
		if f.opChecker, err = hashing.NewSecretVerifier(cfg.Server.OperatorAuthHash); err != nil {
			return fmt.Errorf("server.operator_auth_hash: %w", err)
		}
	} else {
		util.Warn("Operator routes are unauthenticated; set SERVER_OPERATOR_AUTH_HASH")
	}

	var historyReader handler.HistoryReader
	if f.history != nil {
		historyReader = f.history
	}
	var commandLog handler.CommandLog
	if f.commandLog != nil {
		commandLog = f.commandLog
	}
	f.coord = handler.NewCoordHandler(f.dispatcher, f.accounts, f.queue, f.aggregator, historyReader, commandLog, util.Named("http"))
	if f.voteChecker != nil {
		f.coord.WithVoteAuth(f.voteChecker)
	}
	if f.opChecker != nil {
		f.coord.WithOperatorAuth(f.opChecker)
	}
	return nil
}

// Router builds the HTTP surface.
func (f *Factory) Router() http.Handler {
	cfg := handler.RouterConfig{
		Service: "coord-service",
		Metrics: f.metrics.Handler(),
		Health:  f.HealthCheckers(),
	}
	if f.tlsManager != nil {
		cfg.Middleware = append(cfg.Middleware, tls.RequireHTTPS)
	}
	return handler.NewRouter(cfg, f.coord, util.Named("http"))
}

// HealthCheckers lists the dependencies /health probes.
func (f *Factory) HealthCheckers() map[string]handler.HealthChecker {
	checks := map[string]handler.HealthChecker{
		"redis":  f.redisClient,
		"scylla": f.scyllaClient,
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer
	}
	if f.esClient != nil {
		checks["elasticsearch"] = f.esClient
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient
	}
	return checks
}

// Drain waits for detached work: accepted invocations, terms prompts,
// deliveries and audit writes.
func (f *Factory) Drain() {
	if f.coord != nil {
		f.coord.Wait()
	}
	if f.pipeline != nil {
		f.pipeline.Wait()
	}
	if f.consumer != nil {
		f.consumer.Wait()
	}
	if f.recorder != nil {
		f.recorder.Wait()
	}
}

func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.metrics != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := f.metrics.Shutdown(ctx); err != nil {
				util.Error("Failed to shut down metrics", util.ErrorField(err))
			}
			cancel()
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Consumer() *notify.Consumer {
	return f.consumer
}

func (f *Factory) Scheduler() *scheduler.Scheduler {
	return f.scheduler
}
