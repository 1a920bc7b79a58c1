package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	config "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Config"
)

// HealthChecker reports storage backend health for the /health endpoint.
type HealthChecker struct {
	backend string
	db      *sql.DB
	client  *mongo.Client
}

// NewPostgresHealthChecker creates a health checker over a PostgreSQL pool.
func NewPostgresHealthChecker(db *sql.DB) *HealthChecker {
	return &HealthChecker{backend: "postgres", db: db}
}

// NewMongoHealthChecker creates a health checker over a MongoDB client.
func NewMongoHealthChecker(client *mongo.Client) *HealthChecker {
	return &HealthChecker{backend: "mongo", client: client}
}

// CheckStorageHealth pings the active backend and runs a trivial query.
func (h *HealthChecker) CheckStorageHealth(ctx context.Context) error {
	switch h.backend {
	case "postgres":
		if h.db == nil {
			return fmt.Errorf("database connection is nil")
		}
		if err := h.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}
		var result int
		if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
			return fmt.Errorf("database query failed: %w", err)
		}
		return nil
	case "mongo":
		if h.client == nil {
			return fmt.Errorf("mongo client is nil")
		}
		if err := h.client.Ping(ctx, readpref.Primary()); err != nil {
			return fmt.Errorf("mongo ping failed: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown storage backend: %q", h.backend)
	}
}

// GetHealthStatus returns the current health status
func (h *HealthChecker) GetHealthStatus(ctx context.Context) map[string]interface{} {
	checks := make(map[string]interface{})
	status := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   "1.0.0",
		"checks":    checks,
	}

	storageStatus := "ok"
	if err := h.CheckStorageHealth(ctx); err != nil {
		storageStatus = "error"
		checks[h.backend] = map[string]interface{}{
			"status": storageStatus,
			"error":  err.Error(),
		}
	} else {
		checks[h.backend] = map[string]interface{}{
			"status": storageStatus,
		}
	}

	overallStatus := "ok"
	if storageStatus != "ok" {
		overallStatus = "degraded"
	}
	status["status"] = overallStatus

	return status
}

// ConnectPostgresWithTimeout creates a PostgreSQL connection with a timeout context
func ConnectPostgresWithTimeout(cfg *config.Config, timeout time.Duration) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to open PostgreSQL connection: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping PostgreSQL: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MinConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// ConnectMongoWithTimeout creates a MongoDB connection with a timeout context
func ConnectMongoWithTimeout(cfg *config.Config, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.Mongo.URI)
	clientOptions.SetServerSelectionTimeout(timeout)
	clientOptions.SetConnectTimeout(timeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
	}

	// Test the connection
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to ping MongoDB: %w", err)
	}

	return client, nil
}
