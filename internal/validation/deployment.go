package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sensorfleet/deploy-console/internal/models"
)

// Wizard steps. Review covers every field of the earlier steps.
const (
	StepDetails  = 1
	StepLocation = 2
	StepReview   = 3
)

// Recall reasons accepted by the registry
const (
	RecallTypeErrors       = "errors"
	RecallTypeDisconnected = "disconnected"
)

// MinCoordinateDecimals is the precision a typed coordinate must carry
const MinCoordinateDecimals = 5

var (
	heightInputPattern = regexp.MustCompile(`^\s*(\d+(\.\d*)?)?\s*$`)
	decimalPattern     = regexp.MustCompile(`^[+-]?\d*\.(\d+)$`)

	stepFields = map[int][]string{
		StepDetails:  {"deviceName", "height", "mountType", "powerType"},
		StepLocation: {"latitude", "longitude", "siteName"},
	}
)

// DeploymentValidator applies the deploy form rules
type DeploymentValidator struct {
	structural *Validator
	now        func() time.Time
}

// NewDeploymentValidator creates a validator using now as the clock for
// deployment date checks
func NewDeploymentValidator(now func() time.Time) *DeploymentValidator {
	if now == nil {
		now = time.Now
	}
	return &DeploymentValidator{
		structural: NewValidator(),
		now:        now,
	}
}

var defaultDeployment = NewDeploymentValidator(nil)

// Validate checks a deploy submission against the default validator
func Validate(s models.Submission) ErrorMap {
	return defaultDeployment.Validate(s)
}

// Validate checks a deploy submission for an existing device
func (v *DeploymentValidator) Validate(s models.Submission) ErrorMap {
	errs := v.structuralErrors(s)

	if _, failed := errs["height"]; !failed {
		if msg := checkHeight(s.Height); msg != "" {
			errs["height"] = msg
		}
	}

	if msg := checkSite(s.Site); msg != "" {
		errs["site"] = msg
	}

	if msg := v.checkDate(s.DeploymentDate); msg != "" {
		errs["deploymentDate"] = msg
	}

	return errs
}

// ValidateWizard checks every step of the new-device wizard
func (v *DeploymentValidator) ValidateWizard(ws models.WizardSubmission) ErrorMap {
	errs := v.structuralErrors(ws)

	if _, failed := errs["height"]; !failed {
		if msg := checkHeight(ws.Height); msg != "" {
			errs["height"] = msg
		}
	}
	if _, failed := errs["latitude"]; !failed {
		if msg := CheckCoordinate("Latitude", ws.Latitude, -90, 90); msg != "" {
			errs["latitude"] = msg
		}
	}
	if _, failed := errs["longitude"]; !failed {
		if msg := CheckCoordinate("Longitude", ws.Longitude, -180, 180); msg != "" {
			errs["longitude"] = msg
		}
	}
	if msg := v.checkDate(ws.DeploymentDate); msg != "" {
		errs["deploymentDate"] = msg
	}

	return errs
}

// ValidateWizardStep returns only the errors relevant to one wizard step
func (v *DeploymentValidator) ValidateWizardStep(step int, ws models.WizardSubmission) ErrorMap {
	all := v.ValidateWizard(ws)
	if step >= StepReview {
		return all
	}
	fields, ok := stepFields[step]
	if !ok {
		return ErrorMap{}
	}
	return all.Only(fields...)
}

// CanAdvance gates the wizard's Next button
func (v *DeploymentValidator) CanAdvance(step int, ws models.WizardSubmission) bool {
	return v.ValidateWizardStep(step, ws).Empty()
}

// CanRetreat reports whether Back is available. It is never gated on field state.
func CanRetreat(step int) bool {
	return step > StepDetails
}

// ValidateRecallType checks the recall reason
func ValidateRecallType(recallType string) ErrorMap {
	switch recallType {
	case RecallTypeErrors, RecallTypeDisconnected:
		return ErrorMap{}
	}
	return ErrorMap{"recallType": fmt.Sprintf("Must be one of: %s, %s", RecallTypeErrors, RecallTypeDisconnected)}
}

// AcceptHeightInput reports whether a keystroke result may enter the height
// field. Non-numeric input is rejected outright instead of producing an error.
func AcceptHeightInput(s string) bool {
	return heightInputPattern.MatchString(s)
}

// CheckCoordinate validates a typed coordinate and returns an empty string
// when it is acceptable
func CheckCoordinate(name, value string, min, max float64) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return MsgRequired
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return name + " must be a valid number"
	}

	m := decimalPattern.FindStringSubmatch(value)
	if m == nil || len(m[1]) < MinCoordinateDecimals {
		return fmt.Sprintf("%s must have at least %d decimal places", name, MinCoordinateDecimals)
	}

	if f < min || f > max {
		return fmt.Sprintf("%s must be between %g and %g", name, min, max)
	}

	return ""
}

func (v *DeploymentValidator) structuralErrors(s interface{}) ErrorMap {
	// callers only pass submission structs
	errs, _ := v.structural.Validate(s)
	if errs == nil {
		errs = make(ErrorMap)
	}
	return errs
}

func (v *DeploymentValidator) checkDate(date time.Time) string {
	if date.IsZero() {
		return ""
	}
	if date.After(v.now()) {
		return "Deployment date cannot be in the future"
	}
	return ""
}

func checkHeight(height string) string {
	f, err := strconv.ParseFloat(strings.TrimSpace(height), 64)
	if err != nil || f <= 0 {
		return "Height must be a positive number"
	}
	return ""
}

func checkSite(site models.SiteRef) string {
	id := strings.TrimSpace(site.ID)
	label := strings.TrimSpace(site.Label)

	switch {
	case id == "" && label == "":
		return MsgRequired
	case id == "":
		return "Select a site from the list"
	}
	return ""
}
