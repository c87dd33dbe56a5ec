package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/sensorfleet/deploy-console/internal/models"
)

// ========== Lifecycle Methods ==========

// GetLifecycle gets the lifecycle record of a device
func (s *PostgresStore) GetLifecycle(ctx context.Context, network, deviceName string) (*models.LifecycleRecord, error) {
	query := `
		SELECT network, device_name, state, site_id, site_name,
		       deployed_at, recalled_at, updated_at
		FROM device_lifecycles
		WHERE network = $1 AND device_name = $2`

	record := &models.LifecycleRecord{}
	var deployedAt, recalledAt sql.NullTime

	err := s.getDB().QueryRowContext(ctx, query, network, deviceName).Scan(
		&record.Network, &record.DeviceName, &record.State,
		&record.SiteID, &record.SiteName,
		&deployedAt, &recalledAt, &record.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	if deployedAt.Valid {
		record.DeployedAt = &deployedAt.Time
	}
	if recalledAt.Valid {
		record.RecalledAt = &recalledAt.Time
	}

	return record, nil
}

// SaveLifecycle upserts the lifecycle record of a device
func (s *PostgresStore) SaveLifecycle(ctx context.Context, record *models.LifecycleRecord) error {
	if err := validateLifecycle(record); err != nil {
		return err
	}
	record.UpdatedAt = time.Now()

	query := `
		INSERT INTO device_lifecycles (
			network, device_name, state, site_id, site_name,
			deployed_at, recalled_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (network, device_name) DO UPDATE SET
			state = EXCLUDED.state,
			site_id = EXCLUDED.site_id,
			site_name = EXCLUDED.site_name,
			deployed_at = EXCLUDED.deployed_at,
			recalled_at = EXCLUDED.recalled_at,
			updated_at = EXCLUDED.updated_at`

	_, err := s.getDB().ExecContext(ctx, query,
		record.Network, record.DeviceName, record.State,
		record.SiteID, record.SiteName,
		record.DeployedAt, record.RecalledAt, record.UpdatedAt,
	)

	return err
}
