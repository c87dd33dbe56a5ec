package registry

import (
	"time"

	"github.com/sensorfleet/deploy-console/internal/models"
)

// Attribution identifies the operator on lifecycle requests. Fields are
// omitted for anonymous operators.
type Attribution struct {
	UserName  string `json:"userName,omitempty"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// AttributionFor builds the attribution fields for an operator
func AttributionFor(op *models.Operator) Attribution {
	if op == nil {
		return Attribution{}
	}
	return Attribution{
		UserName:  op.Email,
		Email:     op.Email,
		FirstName: op.FirstName,
		LastName:  op.LastName,
		UserID:    op.UserID,
	}
}

// DeployPayload deploys an existing device to a registered site
type DeployPayload struct {
	MountType            string  `json:"mountType"`
	Height               float64 `json:"height"`
	PowerType            string  `json:"powerType"`
	Date                 string  `json:"date"`
	IsPrimaryInLocation  bool    `json:"isPrimaryInLocation"`
	IsUsedForCollocation bool    `json:"isUsedForCollocation"`
	SiteID               string  `json:"site_id"`
	Attribution
}

// CoordinateDeployPayload deploys a device to a site created from coordinates
type CoordinateDeployPayload struct {
	DeviceName          string  `json:"deviceName"`
	DeploymentDate      string  `json:"deployment_date,omitempty"`
	Height              float64 `json:"height"`
	MountType           string  `json:"mountType"`
	PowerType           string  `json:"powerType"`
	IsPrimaryInLocation bool    `json:"isPrimaryInLocation"`
	Latitude            float64 `json:"latitude"`
	Longitude           float64 `json:"longitude"`
	SiteName            string  `json:"site_name"`
	Network             string  `json:"network"`
	Attribution
}

// RecallPayload recalls a deployed device
type RecallPayload struct {
	RecallType string `json:"recallType"`
	Attribution
}

// Message is the registry's acknowledgement body
type Message struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// FormatDate renders a deployment date the way the registry expects (ISO-8601, UTC)
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
