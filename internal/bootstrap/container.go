package bootstrap

import (
	"context"
	"sync"

	"tokenmeter/internal/adapters/config"
	"tokenmeter/internal/adapters/kafka"
	redisclient "tokenmeter/internal/adapters/redis"
	"tokenmeter/internal/api"
	"tokenmeter/internal/api/health"
	"tokenmeter/internal/api/middleware"
	"tokenmeter/internal/domain/usage"
	"tokenmeter/internal/repository/memory"
	usagesvc "tokenmeter/internal/services/usage"
	"tokenmeter/internal/tokenizer"
	"tokenmeter/pkg/auth"
	"tokenmeter/pkg/errors"
	"tokenmeter/pkg/logger"
)

// Container holds the server's dependencies and their lifecycle
// Components are organized in initialization order
type Container struct {
	// Core configuration & logging
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure Layer (nil unless the redis backend is active)
	Redis *redisclient.Client

	// Domain Layer
	Store       usage.Store
	MemoryStore *memory.UsageStore // set when the in-process backend is active

	// Domain Layer - Services
	Services *Services

	// External Adapters
	Adapters *Adapters

	// Application Layer
	Application *Application

	// Lifecycle management
	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Services groups the application services
type Services struct {
	Usage *usagesvc.Service
	JWT   *auth.JWTService
}

// Adapters groups external adapters
type Adapters struct {
	KafkaProducer  *kafka.Producer // nil when KAFKA_BROKERS is empty
	UsagePublisher *kafka.UsagePublisher
	Encoder        *tokenizer.Encoder
}

// Application groups the HTTP surface
type Application struct {
	HTTPServer     *api.Server
	HealthHandler  *health.Handler
	AuthMiddleware *middleware.AuthMiddleware
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Services:    &Services{},
		Adapters:    &Adapters{},
		Application: &Application{},
		Lifecycle:   NewLifecycle(),
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in the correct order
// Panics on any initialization error (fail-fast at startup)
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitAdapters()
	c.MustInitServices()
	c.MustInitApplication()
}

// Start starts the HTTP server in the background
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Application.HTTPServer.Start(); err != nil {
			c.Log.Errorf("HTTP server failed: %v", err)
			c.Cancel() // Trigger shutdown on fatal HTTP error
		}
	}()

	c.Log.Info("✓ All systems operational")
	return nil
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	c.Cancel()

	c.Lifecycle.Shutdown(
		c.WG,
		c.Application.HTTPServer,
		c.Adapters.KafkaProducer,
		c.Redis,
		c.ErrorTracker,
		c.Log,
	)
}

// TrackedUsers reports how many user records the in-process store holds
func (c *Container) TrackedUsers() int {
	if c.MemoryStore == nil {
		return 0
	}
	return c.MemoryStore.Len()
}
