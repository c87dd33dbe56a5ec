package lifecycle

import (
	"time"

	"github.com/sensorfleet/deploy-console/internal/health"
	"github.com/sensorfleet/deploy-console/internal/models"
	"github.com/sensorfleet/deploy-console/internal/validation"
)

// NotificationSeverity classifies an operator notification
type NotificationSeverity string

const (
	SeveritySuccess NotificationSeverity = "success"
	SeverityError   NotificationSeverity = "error"
)

// Notification is the banner shown after an operation
type Notification struct {
	Severity NotificationSeverity `json:"severity"`
	Message  string               `json:"message"`
	At       time.Time            `json:"at"`
}

// DeviceView is everything the deploy status page renders for one device
type DeviceView struct {
	Network string                `json:"network"`
	Device  *models.Device        `json:"device"`
	State   models.LifecycleState `json:"state"`

	Deploying bool `json:"deploying"`
	Recalling bool `json:"recalling"`
	Testing   bool `json:"testing"`

	Errors       validation.ErrorMap `json:"errors"`
	Notification *Notification       `json:"notification,omitempty"`
	Health       *health.Report      `json:"health,omitempty"`

	CanDeploy bool `json:"canDeploy"`
	CanRecall bool `json:"canRecall"`
}

// Active reports whether the device is in field duty
func (v *DeviceView) Active() bool {
	return v.State == models.StateDeployed
}

// session is the per-device interactive state held between requests
type session struct {
	deploying bool
	recalling bool
	testing   bool

	errors       validation.ErrorMap
	notification *Notification
	health       *health.Report
}

func (s *session) busy() bool {
	return s.deploying || s.recalling
}

func (s *session) idle() bool {
	return !s.busy() && !s.testing && s.errors.Empty() && s.notification == nil && s.health == nil
}
