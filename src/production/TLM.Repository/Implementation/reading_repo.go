package implementation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	tlmmodels "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Models"
	interfaces "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Repository/Interfaces"
)

type PostgresReadingRepository struct {
	db      *sql.DB
	archive bool
}

func NewPostgresReadingRepository(db *sql.DB, archive bool) *PostgresReadingRepository {
	return &PostgresReadingRepository{db: db, archive: archive}
}

// AppendReading writes the live row, the archive row (when enabled)
// and the owning device's runtime fields in one transaction.
func (r *PostgresReadingRepository) AppendReading(ctx context.Context, params interfaces.AppendParams) (*tlmmodels.Reading, error) {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer txn.Rollback()

	reading := tlmmodels.Reading{
		DeviceID:    params.DeviceID,
		Topic:       params.Topic,
		Payload:     params.Payload,
		Temperature: params.Temperature,
		Humidity:    params.Humidity,
		Pressure:    params.Pressure,
		Timestamp:   params.Timestamp,
	}

	insertReading := `
		INSERT INTO readings (device_id, topic, payload, temperature, humidity, pressure, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err = txn.QueryRowContext(ctx, insertReading,
		params.DeviceID, params.Topic, params.Payload,
		params.Temperature, params.Humidity, params.Pressure, params.Timestamp,
	).Scan(&reading.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert reading: %w", err)
	}

	if r.archive {
		insertHistory := `
			INSERT INTO history (device_id, temperature, humidity, pressure, ts)
			VALUES ($1, $2, $3, $4, $5)
		`
		if _, err := txn.ExecContext(ctx, insertHistory,
			params.DeviceID, params.Temperature, params.Humidity, params.Pressure, params.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to insert history entry: %w", err)
		}
	}

	updateDevice := `
		UPDATE devices
		SET status = $2, is_connected = TRUE, last_seen = $3, updated_at = now()
		WHERE id = $1
	`
	if _, err := txn.ExecContext(ctx, updateDevice, params.DeviceID, tlmmodels.StatusOnline, params.Timestamp); err != nil {
		return nil, fmt.Errorf("failed to update device last_seen: %w", err)
	}

	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reading: %w", err)
	}

	return &reading, nil
}

func (r *PostgresReadingRepository) GetLatestReading(ctx context.Context, deviceID int64) (*tlmmodels.Reading, error) {
	query := `
		SELECT id, device_id, topic, payload, temperature, humidity, pressure, ts
		FROM readings
		WHERE device_id = $1
		ORDER BY ts DESC
		LIMIT 1
	`
	return r.scanReading(r.db.QueryRowContext(ctx, query, deviceID))
}

func (r *PostgresReadingRepository) GetLatestAny(ctx context.Context, since time.Time) (*tlmmodels.Reading, error) {
	query := `
		SELECT id, device_id, topic, payload, temperature, humidity, pressure, ts
		FROM readings
		WHERE ts >= $1
		ORDER BY ts DESC
		LIMIT 1
	`
	return r.scanReading(r.db.QueryRowContext(ctx, query, since))
}

func (r *PostgresReadingRepository) GetHistorySince(ctx context.Context, since time.Time) ([]tlmmodels.HistoryEntry, error) {
	query := `
		SELECT id, device_id, temperature, humidity, pressure, ts
		FROM history
		WHERE ts >= $1
		ORDER BY ts DESC
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []tlmmodels.HistoryEntry
	for rows.Next() {
		var entry tlmmodels.HistoryEntry
		if err := rows.Scan(&entry.ID, &entry.DeviceID, &entry.Temperature, &entry.Humidity, &entry.Pressure, &entry.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (r *PostgresReadingRepository) scanReading(row *sql.Row) (*tlmmodels.Reading, error) {
	var reading tlmmodels.Reading
	err := row.Scan(
		&reading.ID, &reading.DeviceID, &reading.Topic, &reading.Payload,
		&reading.Temperature, &reading.Humidity, &reading.Pressure, &reading.Timestamp,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &reading, nil
}
