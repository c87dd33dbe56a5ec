package models

import (
	"strings"
	"time"
)

// Site is a physical deployment location known to the registry
type Site struct {
	ID         string   `json:"_id"`
	Name       string   `json:"name"`
	SearchName string   `json:"search_name,omitempty"`
	Network    string   `json:"network,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

// Device represents a registered air-quality sensor node as returned by the registry
type Device struct {
	ID       string `json:"_id,omitempty"`
	Name     string `json:"name"`
	LongName string `json:"long_name,omitempty"`
	Network  string `json:"network,omitempty"`

	// Channel used for telemetry lookups
	DeviceNumber int64 `json:"device_number"`

	// Deployment details
	Height               float64    `json:"height,omitempty"`
	PowerType            string     `json:"powerType,omitempty"`
	MountType            string     `json:"mountType,omitempty"`
	Latitude             *float64   `json:"latitude,omitempty"`
	Longitude            *float64   `json:"longitude,omitempty"`
	Site                 *Site      `json:"site,omitempty"`
	IsPrimaryInLocation  bool       `json:"isPrimaryInLocation"`
	IsUsedForCollocation bool       `json:"isUsedForCollocation"`
	DeploymentDate       *time.Time `json:"deployment_date,omitempty"`

	// Status
	IsActive bool   `json:"isActive"`
	Status   string `json:"status,omitempty"`
}

// LifecycleState derives the deployment state from registry fields.
// An explicit status wins; otherwise the active flag decides.
func (d *Device) LifecycleState() LifecycleState {
	if d.Status != "" {
		if state, ok := ParseLifecycleState(d.Status); ok {
			return state
		}
	}
	if d.IsActive {
		return StateDeployed
	}
	return StateNotDeployed
}

// SiteID returns the identifier of the assigned site, if any
func (d *Device) SiteID() string {
	if d.Site == nil {
		return ""
	}
	return d.Site.ID
}

// ParseLifecycleState accepts both the wire form ("not_deployed") and the
// registry's display form ("not deployed")
func ParseLifecycleState(s string) (LifecycleState, bool) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	switch LifecycleState(normalized) {
	case StateNotDeployed, StateDeployed, StateRecalled:
		return LifecycleState(normalized), true
	}
	return "", false
}
