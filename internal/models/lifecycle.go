package models

import (
	"time"

	"github.com/google/uuid"
)

// LifecycleState is the deployment state of a device
type LifecycleState string

const (
	StateNotDeployed LifecycleState = "not_deployed"
	StateDeployed    LifecycleState = "deployed"
	StateRecalled    LifecycleState = "recalled"
)

// LifecycleRecord is the locally tracked result of the last lifecycle transition
type LifecycleRecord struct {
	NetworkModel
	DeviceName string         `json:"deviceName" db:"device_name"`
	State      LifecycleState `json:"state" db:"state"`
	SiteID     string         `json:"siteId,omitempty" db:"site_id"`
	SiteName   string         `json:"siteName,omitempty" db:"site_name"`
	DeployedAt *time.Time     `json:"deployedAt,omitempty" db:"deployed_at"`
	RecalledAt *time.Time     `json:"recalledAt,omitempty" db:"recalled_at"`
}

// HasSite reports whether the record references a site by id or name
func (r *LifecycleRecord) HasSite() bool {
	return r.SiteID != "" || r.SiteName != ""
}

// Active reports whether the device is in active field duty
func (r *LifecycleRecord) Active() bool {
	return r.State == StateDeployed
}

// LifecycleEvent is broadcast after a successful transition
type LifecycleEvent struct {
	ID         uuid.UUID      `json:"id"`
	Origin     string         `json:"origin,omitempty"`
	Network    string         `json:"network"`
	DeviceName string         `json:"deviceName"`
	State      LifecycleState `json:"state"`
	SiteID     string         `json:"siteId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}
