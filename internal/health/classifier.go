package health

import (
	"strconv"
	"strings"
	"time"

	"github.com/sensorfleet/deploy-console/internal/models"
)

// Status is the outcome of a health test run
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// Severity controls how a channel result is rendered
type Severity string

const (
	SeverityOK    Severity = "ok"
	SeverityError Severity = "error"
	SeverityMuted Severity = "muted"
)

// FailedMessage is shown when the telemetry fetch itself failed
const FailedMessage = "Device test has failed, please cross check the functionality of device"

// ChannelResult is the classification of one channel value
type ChannelResult struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Value    string   `json:"value"`
	Valid    bool     `json:"valid"`
	Severity Severity `json:"severity"`
}

// Report is the result of a health test
type Report struct {
	Status      Status          `json:"status"`
	Message     string          `json:"message,omitempty"`
	CreatedAt   time.Time       `json:"createdAt,omitempty"`
	Age         AgeInfo         `json:"age"`
	FutureDated bool            `json:"futureDated"`
	Channels    []ChannelResult `json:"channels,omitempty"`
}

// Passed reports whether the telemetry fetch succeeded
func (r *Report) Passed() bool {
	return r.Status == StatusPassed
}

// IsValid classifies a raw channel value against a rule
func IsValid(value string, rule Rule) bool {
	if rule.Unbounded {
		return true
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return false
	}

	for _, bad := range rule.Excluded {
		if v == bad {
			return false
		}
	}

	return rule.Range.Contains(v)
}

// Classify classifies every channel of a snapshot
func Classify(snapshot *models.TelemetrySnapshot, rules Rules, now time.Time) Report {
	if rules == nil {
		rules = DefaultRules
	}

	age := Age(snapshot.CreatedAt, now)
	report := Report{
		Status:      StatusPassed,
		CreatedAt:   snapshot.CreatedAt,
		Age:         age,
		FutureDated: age.Future,
		Channels:    make([]ChannelResult, 0, len(snapshot.Channels)),
	}
	if age.Future {
		report.Message = "Start date for this device is set to " + snapshot.CreatedAt.Format(time.RFC1123)
	}

	for _, key := range snapshot.Keys() {
		value := snapshot.Channels[key]
		valid := IsValid(value, rules.Lookup(key))

		report.Channels = append(report.Channels, ChannelResult{
			Key:      key,
			Label:    rules.Label(key),
			Value:    value,
			Valid:    valid,
			Severity: severity(valid, age.Stale),
		})
	}

	return report
}

// Failed is the terminal report for a test whose telemetry fetch failed
func Failed() Report {
	return Report{
		Status:  StatusFailed,
		Message: FailedMessage,
	}
}

func severity(valid, stale bool) Severity {
	switch {
	case !valid:
		return SeverityError
	case stale:
		return SeverityMuted
	default:
		return SeverityOK
	}
}
