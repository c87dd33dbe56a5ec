package models

import (
	"time"

	"github.com/google/uuid"
)

// ActivityLog represents an operator action against a device
type ActivityLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	Network    string `json:"network" db:"network"`
	DeviceName string `json:"deviceName" db:"device_name"`
	Operator   string `json:"operator,omitempty" db:"operator"`

	Type        ActivityType  `json:"type" db:"type"`
	Level       ActivityLevel `json:"level" db:"level"`
	Description string        `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// ActivityType represents activity types
type ActivityType string

const (
	ActivityTypeDeploy       ActivityType = "DEPLOY"
	ActivityTypeDeployFailed ActivityType = "DEPLOY_FAILED"
	ActivityTypeRecall       ActivityType = "RECALL"
	ActivityTypeRecallFailed ActivityType = "RECALL_FAILED"
	ActivityTypeHealthTest   ActivityType = "HEALTH_TEST"
)

// ActivityLevel represents activity severity levels
type ActivityLevel string

const (
	ActivityLevelInfo    ActivityLevel = "INFO"
	ActivityLevelWarning ActivityLevel = "WARNING"
	ActivityLevelError   ActivityLevel = "ERROR"
)
