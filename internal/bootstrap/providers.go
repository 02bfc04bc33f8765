package bootstrap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tokenmeter/internal/adapters/config"
	"tokenmeter/internal/adapters/errors/noop"
	"tokenmeter/internal/adapters/errors/sentry"
	"tokenmeter/internal/adapters/kafka"
	redisclient "tokenmeter/internal/adapters/redis"
	"tokenmeter/internal/api"
	"tokenmeter/internal/api/health"
	"tokenmeter/internal/api/middleware"
	"tokenmeter/internal/api/spend"
	"tokenmeter/internal/api/tokens"
	"tokenmeter/internal/metrics"
	"tokenmeter/internal/repository/memory"
	redisrepo "tokenmeter/internal/repository/redis"
	usagesvc "tokenmeter/internal/services/usage"
	"tokenmeter/internal/tokenizer"
	"tokenmeter/pkg/auth"
	"tokenmeter/pkg/errors"
	"tokenmeter/pkg/logger"
)

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	// Initialize logger
	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.Log = logger.Get()
	c.Log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	// Initialize error tracker
	c.ErrorTracker = provideErrorTracker(cfg.ErrorTracking, cfg.App.Version, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure selects the usage store backend
func (c *Container) MustInitInfrastructure() {
	switch c.Config.Store.Backend {
	case config.BackendRedis:
		var err error
		c.Log.Info("Connecting to Redis...")
		c.Redis, err = redisclient.NewClient(c.Config.Redis)
		if err != nil {
			c.Log.Fatalf("failed to connect redis: %v", err)
		}
		c.Store = redisrepo.NewUsageStore(c.Redis.Client(), c.Redis.KeyPrefix(), c.Config.Store.TTL)
		c.Log.Info("✓ Redis connected")

	default:
		c.MemoryStore = memory.NewUsageStore()
		c.Store = c.MemoryStore
		c.Log.Info("✓ In-process usage store initialized")
	}

	metrics.Init()
	prometheus.MustRegister(metrics.NewUsageCollector(c.TrackedUsers, c.redisClient()))
}

// ========================================
// Phase 3: External Adapters
// ========================================

// MustInitAdapters initializes the event producer and the tokenizer encoder
func (c *Container) MustInitAdapters() {
	c.Adapters.KafkaProducer = provideKafkaProducer(c.Config.Kafka, c.Log)
	if c.Adapters.KafkaProducer != nil {
		c.Adapters.UsagePublisher = kafka.NewUsagePublisher(c.Adapters.KafkaProducer, c.Config.Kafka.UsageTopic)
	}

	c.Adapters.Encoder = tokenizer.NewEncoder(c.Config.Tokenizer.DefaultEncoding, c.Config.Tokenizer.FallbackEncoding)
	c.Log.Infow("✓ Tokenizer encoder initialized",
		"default_encoding", c.Config.Tokenizer.DefaultEncoding,
		"fallback_encoding", c.Config.Tokenizer.FallbackEncoding,
	)
}

// ========================================
// Phase 4: Services
// ========================================

// MustInitServices initializes the usage and auth services
func (c *Container) MustInitServices() {
	opts := []usagesvc.Option{usagesvc.WithTTL(c.Config.Store.TTL)}
	if c.Adapters.UsagePublisher != nil {
		opts = append(opts, usagesvc.WithPublisher(c.Adapters.UsagePublisher))
	}
	c.Services.Usage = usagesvc.NewService(c.Store, c.Config.Store.Backend, c.Log, opts...)

	c.Services.JWT = auth.NewJWTService(c.Config.Auth.JWTSecret, c.Config.Auth.Issuer, c.Config.Auth.TokenTTL)

	c.Log.Infow("✓ Services initialized",
		"backend", c.Config.Store.Backend,
		"ttl", c.Config.Store.TTL,
	)
}

// ========================================
// Phase 5: Application Layer
// ========================================

// MustInitApplication builds the HTTP server
func (c *Container) MustInitApplication() {
	checks := map[string]health.Pinger{}
	if c.Redis != nil {
		checks["redis"] = c.Redis
	}
	c.Application.HealthHandler = health.New(c.Log, c.Config.App.Name, c.Config.App.Version, checks)
	c.Application.AuthMiddleware = middleware.NewAuthMiddleware(c.Services.JWT, c.Log)

	c.Application.HTTPServer = api.NewServer(
		api.ServerConfig{
			Port:         c.Config.HTTP.Port,
			ServiceName:  c.Config.App.Name,
			Version:      c.Config.App.Version,
			ReadTimeout:  c.Config.HTTP.ReadTimeout,
			WriteTimeout: c.Config.HTTP.WriteTimeout,
			IdleTimeout:  c.Config.HTTP.IdleTimeout,
		},
		api.Routes{
			Health: c.Application.HealthHandler,
			Auth:   c.Application.AuthMiddleware,
			Spend:  spend.New(c.Services.Usage, c.Log),
			Tokens: tokens.New(c.Adapters.Encoder, c.Log),
		},
		c.Log,
	)
	c.Log.Infow("✓ HTTP server initialized", "port", c.Config.HTTP.Port)
}

func (c *Container) redisClient() *redis.Client {
	if c.Redis == nil {
		return nil
	}
	return c.Redis.Client()
}

// provideErrorTracker initializes error tracking (Sentry or no-op)
func provideErrorTracker(cfg config.ErrorTrackingConfig, release string, log *logger.Logger) errors.Tracker {
	if !cfg.Enabled || cfg.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.SentryDSN, cfg.Environment, release)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("✓ Error tracking initialized (Sentry)")
	return tracker
}

// provideKafkaProducer returns nil when no brokers are configured
func provideKafkaProducer(cfg config.KafkaConfig, log *logger.Logger) *kafka.Producer {
	if !cfg.Enabled() {
		log.Info("Usage event publishing disabled")
		return nil
	}

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: cfg.Brokers,
		Async:   true,
	})
	log.Infow("✓ Kafka producer initialized", "brokers", cfg.Brokers, "topic", cfg.UsageTopic)
	return producer
}
