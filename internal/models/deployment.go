package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SiteRole is the role a device plays at its site. Primary and collocation
// are mutually exclusive.
type SiteRole int

const (
	SiteRoleNeither SiteRole = iota
	SiteRolePrimary
	SiteRoleCollocation
)

var siteRoleNames = map[SiteRole]string{
	SiteRoleNeither:     "neither",
	SiteRolePrimary:     "primary",
	SiteRoleCollocation: "collocation",
}

// SiteRoleFromFlags converts the legacy paired checkboxes. Primary wins if both are set.
func SiteRoleFromFlags(primary, collocation bool) SiteRole {
	switch {
	case primary:
		return SiteRolePrimary
	case collocation:
		return SiteRoleCollocation
	default:
		return SiteRoleNeither
	}
}

// IsPrimary reports whether the device is the primary device in its location
func (r SiteRole) IsPrimary() bool { return r == SiteRolePrimary }

// IsCollocation reports whether the device is used for collocation
func (r SiteRole) IsCollocation() bool { return r == SiteRoleCollocation }

func (r SiteRole) String() string {
	if name, ok := siteRoleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("SiteRole(%d)", int(r))
}

// MarshalJSON implements json.Marshaler
func (r SiteRole) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON implements json.Unmarshaler. An empty string means neither.
func (r *SiteRole) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("site role must be a string: %w", err)
	}
	if s == "" {
		*r = SiteRoleNeither
		return nil
	}
	for role, name := range siteRoleNames {
		if name == s {
			*r = role
			return nil
		}
	}
	return fmt.Errorf("unknown site role %q", s)
}

// SiteRef references a site as picked in the deploy form
type SiteRef struct {
	ID    string `json:"value"`
	Label string `json:"label"`
}

// Submission is the operator's deploy form draft for an existing device
type Submission struct {
	MountType      string    `json:"mountType" validate:"required,oneof=Faceboard|Pole|Rooftop|Suspended|Wall"`
	PowerType      string    `json:"powerType" validate:"required,oneof=Solar|Mains|Alternator"`
	Height         string    `json:"height" validate:"required"`
	DeploymentDate time.Time `json:"deploymentDate"`
	Role           SiteRole  `json:"role"`
	Site           SiteRef   `json:"site"`
}

// WizardSubmission is the new-device deployment wizard draft, which places a
// device by coordinates instead of an existing site
type WizardSubmission struct {
	DeviceName     string    `json:"deviceName" validate:"required,min=4"`
	Height         string    `json:"height" validate:"required"`
	MountType      string    `json:"mountType" validate:"required,oneof=Faceboard|Pole|Rooftop|Suspended|Wall"`
	PowerType      string    `json:"powerType" validate:"required,oneof=Solar|Mains|Alternator"`
	DeploymentDate time.Time `json:"deploymentDate"`
	Role           SiteRole  `json:"role"`
	Latitude       string    `json:"latitude" validate:"required"`
	Longitude      string    `json:"longitude" validate:"required"`
	SiteName       string    `json:"siteName" validate:"required,min=4"`
}

// UnmarshalJSON accepts the height as a string or a number, and the legacy
// isPrimaryInLocation/isUsedForCollocation pair when role is absent.
func (s *Submission) UnmarshalJSON(data []byte) error {
	type plain Submission
	aux := struct {
		*plain
		Height      FormValue `json:"height"`
		Role        *SiteRole `json:"role"`
		Primary     bool      `json:"isPrimaryInLocation"`
		Collocation bool      `json:"isUsedForCollocation"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	s.Height = string(aux.Height)
	s.Role = resolveRole(aux.Role, aux.Primary, aux.Collocation)
	return nil
}

// UnmarshalJSON accepts numeric height and coordinates, and the legacy role flags
func (w *WizardSubmission) UnmarshalJSON(data []byte) error {
	type plain WizardSubmission
	aux := struct {
		*plain
		Height      FormValue `json:"height"`
		Latitude    FormValue `json:"latitude"`
		Longitude   FormValue `json:"longitude"`
		Role        *SiteRole `json:"role"`
		Primary     bool      `json:"isPrimaryInLocation"`
		Collocation bool      `json:"isUsedForCollocation"`
	}{plain: (*plain)(w)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	w.Height = string(aux.Height)
	w.Latitude = string(aux.Latitude)
	w.Longitude = string(aux.Longitude)
	w.Role = resolveRole(aux.Role, aux.Primary, aux.Collocation)
	return nil
}

// resolveRole falls back to the paired checkboxes older clients send
func resolveRole(role *SiteRole, primary, collocation bool) SiteRole {
	if role != nil {
		return *role
	}
	return SiteRoleFromFlags(primary, collocation)
}

// FormValue is a text form field that clients may also send as a JSON number
type FormValue string

// UnmarshalJSON implements json.Unmarshaler
func (v *FormValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = FormValue(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected a string or a number: %w", err)
	}
	*v = FormValue(n.String())
	return nil
}

// Operator identifies the person performing a lifecycle action
type Operator struct {
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}
