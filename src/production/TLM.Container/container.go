package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.mongodb.org/mongo-driver/mongo"

	"gitlab.com/francauto/fa.telemetry_server/src/production/TLM.ApiService/health"
	broadcaster "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Broadcaster"
	config "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Config"
	logger "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Logger"
	registry "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Registry"
	implementation "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Repository/Implementation"
	interfaces "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Repository/Interfaces"
)

// Container manages dependencies and their lifecycle
type Container struct {
	config      *config.Config
	logger      *logger.Logger
	db          *sql.DB
	mongoClient *mongo.Client

	bootLock     *flock.Flock
	bootLockHeld bool

	deviceRepo  interfaces.DeviceRepository
	readingRepo interfaces.ReadingRepository

	hub      *broadcaster.Hub
	registry *registry.Registry
	sweeper  *registry.Sweeper

	healthChecker *health.HealthChecker

	// Mutex for thread-safe access
	mu sync.RWMutex

	// Cleanup functions
	cleanupFuncs []func() error
}

// NewContainer creates a new dependency injection container
func NewContainer() (*Container, error) {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	log := logger.NewLogger(&cfg.Logging)

	return &Container{
		config: cfg,
		logger: log,
	}, nil
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// GetDatabase returns the PostgreSQL connection pool
func (c *Container) GetDatabase() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		db, err := health.ConnectPostgresWithTimeout(c.config, 20*time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.db = db
		c.cleanupFuncs = append(c.cleanupFuncs, db.Close)
	}

	return c.db, nil
}

// GetMongoClient returns the MongoDB client
func (c *Container) GetMongoClient() (*mongo.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mongoClient == nil {
		client, err := health.ConnectMongoWithTimeout(c.config, 20*time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		c.mongoClient = client
		c.cleanupFuncs = append(c.cleanupFuncs, func() error {
			return client.Disconnect(context.Background())
		})
	}

	return c.mongoClient, nil
}

// AcquireBootLock takes the cross-process advisory lock that guards the
// connection reset at startup. Returns false without error when another
// process on this host already holds it.
func (c *Container) AcquireBootLock() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bootLock == nil {
		c.bootLock = flock.New(c.config.Telemetry.BootLockPath)
	}

	held, err := c.bootLock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire boot lock: %w", err)
	}
	if held {
		c.bootLockHeld = true
		c.cleanupFuncs = append(c.cleanupFuncs, c.bootLock.Unlock)
	}
	return held, nil
}

// GetRepositories returns the device and reading repositories for the
// configured storage backend.
func (c *Container) GetRepositories() (interfaces.DeviceRepository, interfaces.ReadingRepository, error) {
	c.mu.Lock()
	if c.deviceRepo != nil && c.readingRepo != nil {
		defer c.mu.Unlock()
		return c.deviceRepo, c.readingRepo, nil
	}
	c.mu.Unlock()

	var deviceRepo interfaces.DeviceRepository
	var readingRepo interfaces.ReadingRepository

	// Connect without holding the lock to avoid deadlock
	switch c.config.Storage.Backend {
	case "mongo":
		client, err := c.GetMongoClient()
		if err != nil {
			return nil, nil, err
		}
		deviceRepo = implementation.NewMongoDeviceRepository(client, c.config.Mongo.DBName)
		readingRepo = implementation.NewMongoReadingRepository(client, c.config.Mongo.DBName, c.config.Telemetry.ArchiveEnabled)
	default:
		db, err := c.GetDatabase()
		if err != nil {
			return nil, nil, err
		}
		deviceRepo = implementation.NewPostgresDeviceRepository(db)
		readingRepo = implementation.NewPostgresReadingRepository(db, c.config.Telemetry.ArchiveEnabled)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deviceRepo == nil {
		c.deviceRepo = deviceRepo
		c.readingRepo = readingRepo
	}
	return c.deviceRepo, c.readingRepo, nil
}

// GetHub returns the websocket broadcast hub. The caller owns starting
// its Run loop.
func (c *Container) GetHub() *broadcaster.Hub {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hub == nil {
		c.hub = broadcaster.NewHub(c.logger)
		hub := c.hub
		c.cleanupFuncs = append(c.cleanupFuncs, func() error {
			hub.Close()
			return nil
		})
	}

	return c.hub
}

// GetRegistry returns the connection registry
func (c *Container) GetRegistry() (*registry.Registry, error) {
	c.mu.Lock()
	if c.registry != nil {
		defer c.mu.Unlock()
		return c.registry, nil
	}
	c.mu.Unlock()

	deviceRepo, readingRepo, err := c.GetRepositories()
	if err != nil {
		return nil, fmt.Errorf("failed to get repositories for registry: %w", err)
	}
	hub := c.GetHub()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registry == nil {
		c.registry = registry.NewRegistry(c.config.Telemetry, deviceRepo, readingRepo, hub, c.logger)
	}
	return c.registry, nil
}

// GetSweeper returns the staleness sweeper. The caller owns Start/Stop.
func (c *Container) GetSweeper() (*registry.Sweeper, error) {
	c.mu.Lock()
	if c.sweeper != nil {
		defer c.mu.Unlock()
		return c.sweeper, nil
	}
	c.mu.Unlock()

	reg, err := c.GetRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to get registry for sweeper: %w", err)
	}
	deviceRepo, _, err := c.GetRepositories()
	if err != nil {
		return nil, err
	}
	hub := c.GetHub()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sweeper == nil {
		c.sweeper = registry.NewSweeper(reg, deviceRepo, hub, c.logger)
	}
	return c.sweeper, nil
}

// GetHealthChecker returns the health checker for the active backend
func (c *Container) GetHealthChecker() (*health.HealthChecker, error) {
	c.mu.Lock()
	if c.healthChecker != nil {
		c.mu.Unlock()
		return c.healthChecker, nil
	}
	c.mu.Unlock()

	var checker *health.HealthChecker
	switch c.config.Storage.Backend {
	case "mongo":
		client, err := c.GetMongoClient()
		if err != nil {
			return nil, fmt.Errorf("failed to get mongo client for health checker: %w", err)
		}
		checker = health.NewMongoHealthChecker(client)
	default:
		db, err := c.GetDatabase()
		if err != nil {
			return nil, fmt.Errorf("failed to get database for health checker: %w", err)
		}
		checker = health.NewPostgresHealthChecker(db)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.healthChecker == nil {
		c.healthChecker = checker
	}
	return c.healthChecker, nil
}

// InitializeStorage prepares the active backend: tables and indexes for
// PostgreSQL, collection indexes for MongoDB.
func (c *Container) InitializeStorage(ctx context.Context) error {
	switch c.config.Storage.Backend {
	case "mongo":
		client, err := c.GetMongoClient()
		if err != nil {
			return err
		}
		if err := implementation.EnsureMongoIndexes(ctx, client, c.config.Mongo.DBName); err != nil {
			return fmt.Errorf("failed to create mongo indexes: %w", err)
		}
	default:
		db, err := c.GetDatabase()
		if err != nil {
			return err
		}
		if err := implementation.CreateTables(db); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}

	c.logger.Info("Storage initialized successfully")
	return nil
}

// HealthCheck performs a comprehensive health check
func (c *Container) HealthCheck(ctx context.Context) map[string]interface{} {
	healthChecker, err := c.GetHealthChecker()
	if err != nil {
		return map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
	}

	return healthChecker.GetHealthStatus(ctx)
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown gracefully shuts down the container and all its dependencies
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	// Execute cleanup functions in reverse order
	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Info("Container shutdown complete")
	return nil
}
