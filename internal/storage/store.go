package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sensorfleet/deploy-console/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Lifecycle methods
	GetLifecycle(ctx context.Context, network, deviceName string) (*models.LifecycleRecord, error)
	SaveLifecycle(ctx context.Context, record *models.LifecycleRecord) error

	// Activity log methods
	CreateActivity(ctx context.Context, activity *models.ActivityLog) error
	ListActivities(ctx context.Context, filters ActivityFilters, limit, offset int) ([]*models.ActivityLog, int64, error)

	// Close the store
	Close() error
}

// ActivityFilters represents filters for activity logs
type ActivityFilters struct {
	Network    *string
	DeviceName *string
	Type       *models.ActivityType
	Level      *models.ActivityLevel
	StartTime  *time.Time
	EndTime    *time.Time
}

// validateLifecycle enforces that a deployed device has a site and a deployment date
func validateLifecycle(record *models.LifecycleRecord) error {
	if record.Network == "" || record.DeviceName == "" {
		return fmt.Errorf("%w: network and device name are required", ErrInvalidData)
	}
	if record.State == models.StateDeployed && (!record.HasSite() || record.DeployedAt == nil) {
		return fmt.Errorf("%w: deployed device %s needs a site and deployment date", ErrInvalidData, record.DeviceName)
	}
	return nil
}
