package implementation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	tlmmodels "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Models"
)

const deviceColumns = `id, name, protocol, host, port, client_id, username, password,
	mqtt_version, keep_alive, auto_reconnect, reconnect_period, enable_tls,
	status, is_connected, created_at, updated_at, last_seen`

type PostgresDeviceRepository struct {
	db *sql.DB
}

func NewPostgresDeviceRepository(db *sql.DB) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{db: db}
}

func (r *PostgresDeviceRepository) GetDevice(ctx context.Context, id int64) (*tlmmodels.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`
	return r.scanDevice(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresDeviceRepository) GetDeviceByName(ctx context.Context, name string) (*tlmmodels.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE name = $1`
	return r.scanDevice(r.db.QueryRowContext(ctx, query, name))
}

func (r *PostgresDeviceRepository) ListDevices(ctx context.Context) ([]tlmmodels.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []tlmmodels.Device
	for rows.Next() {
		device, err := scanDeviceRow(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *device)
	}

	return devices, rows.Err()
}

func (r *PostgresDeviceRepository) CountDevices(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices`).Scan(&count)
	return count, err
}

func (r *PostgresDeviceRepository) CountByStatus(ctx context.Context, status string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices WHERE status = $1`, status).Scan(&count)
	return count, err
}

func (r *PostgresDeviceRepository) SetConnectionState(ctx context.Context, id int64, status string, connected bool, lastSeen *time.Time) error {
	query := `
		UPDATE devices
		SET status = $2,
		    is_connected = $3,
		    last_seen = COALESCE($4, last_seen),
		    updated_at = now()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, status, connected, lastSeen)
	if err != nil {
		return fmt.Errorf("failed to update device state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresDeviceRepository) MarkAllOffline(ctx context.Context) error {
	query := `
		UPDATE devices
		SET status = $1, is_connected = FALSE, updated_at = now()
		WHERE status <> $1 OR is_connected
	`
	_, err := r.db.ExecContext(ctx, query, tlmmodels.StatusOffline)
	return err
}

func (r *PostgresDeviceRepository) DeleteDevice(ctx context.Context, id int64) error {
	// readings and history cascade via foreign keys
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *PostgresDeviceRepository) scanDevice(row *sql.Row) (*tlmmodels.Device, error) {
	device, err := scanDeviceRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return device, nil
}

func scanDeviceRow(row rowScanner) (*tlmmodels.Device, error) {
	var device tlmmodels.Device
	var host, clientID, username, password, mqttVersion sql.NullString
	var lastSeen sql.NullTime

	err := row.Scan(
		&device.ID, &device.Name, &device.Protocol, &host, &device.Port,
		&clientID, &username, &password, &mqttVersion,
		&device.KeepAlive, &device.AutoReconnect, &device.ReconnectPeriod, &device.EnableTLS,
		&device.Status, &device.IsConnected, &device.CreatedAt, &device.UpdatedAt, &lastSeen,
	)
	if err != nil {
		return nil, err
	}

	device.Host = host.String
	device.ClientID = clientID.String
	device.Username = username.String
	device.Password = password.String
	device.MQTTVersion = mqttVersion.String
	if lastSeen.Valid {
		ts := lastSeen.Time
		device.LastSeen = &ts
	}

	return &device, nil
}
