package implementation

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateTables creates the required tables if they don't exist.
func CreateTables(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	createDevicesTable := `
		CREATE TABLE IF NOT EXISTS devices (
			id               BIGSERIAL PRIMARY KEY,
			name             TEXT NOT NULL UNIQUE,
			protocol         TEXT NOT NULL DEFAULT 'mqtt',
			host             TEXT,
			port             INTEGER NOT NULL DEFAULT 1883,
			client_id        TEXT,
			username         TEXT,
			password         TEXT,
			mqtt_version     TEXT,
			keep_alive       INTEGER NOT NULL DEFAULT 60,
			auto_reconnect   BOOLEAN NOT NULL DEFAULT FALSE,
			reconnect_period INTEGER NOT NULL DEFAULT 0,
			enable_tls       BOOLEAN NOT NULL DEFAULT FALSE,
			status           TEXT NOT NULL DEFAULT 'offline',
			is_connected     BOOLEAN NOT NULL DEFAULT FALSE,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_seen        TIMESTAMPTZ
		);
	`

	createReadingsTable := `
		CREATE TABLE IF NOT EXISTS readings (
			id          BIGSERIAL PRIMARY KEY,
			device_id   BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			topic       TEXT NOT NULL,
			payload     TEXT NOT NULL,
			temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
			humidity    DOUBLE PRECISION NOT NULL DEFAULT 0,
			pressure    DOUBLE PRECISION NOT NULL DEFAULT 0,
			ts          TIMESTAMPTZ NOT NULL
		);
	`

	createHistoryTable := `
		CREATE TABLE IF NOT EXISTS history (
			id          BIGSERIAL PRIMARY KEY,
			device_id   BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
			humidity    DOUBLE PRECISION NOT NULL DEFAULT 0,
			pressure    DOUBLE PRECISION NOT NULL DEFAULT 0,
			ts          TIMESTAMPTZ NOT NULL
		);
	`

	createIndexes := `
		CREATE INDEX IF NOT EXISTS idx_readings_device_ts_desc ON readings (device_id, ts DESC);
		CREATE INDEX IF NOT EXISTS idx_readings_ts_desc ON readings (ts DESC);
		CREATE INDEX IF NOT EXISTS idx_history_ts_desc ON history (ts DESC);
	`

	queries := []string{
		createDevicesTable,
		createReadingsTable,
		createHistoryTable,
		createIndexes,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %v", err)
		}
	}

	return nil
}
