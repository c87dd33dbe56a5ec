package health

import "math"

// Range is an inclusive numeric interval
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within the interval, bounds included
func (r Range) Contains(v float64) bool {
	return r.Min <= v && v <= r.Max
}

// Rule describes what a healthy reading looks like for one channel
type Rule struct {
	Label string `json:"label,omitempty"`
	Range Range  `json:"range"`

	// Excluded are sentinel values that signal a malfunction even when in range
	Excluded []float64 `json:"excluded,omitempty"`

	// Unbounded marks the fallback rule for unknown channels: always valid
	Unbounded bool `json:"unbounded,omitempty"`
}

// DefaultRule applies to channels without a registered rule
var DefaultRule = Rule{
	Range:     Range{Min: math.Inf(1), Max: math.Inf(1)},
	Unbounded: true,
}

// Rules is a channel-keyed rule table
type Rules map[string]Rule

// Lookup returns the rule for a channel, or DefaultRule
func (r Rules) Lookup(channel string) Rule {
	if rule, ok := r[channel]; ok {
		return rule
	}
	return DefaultRule
}

// Label returns the display label for a channel, falling back to its key
func (r Rules) Label(channel string) string {
	if rule, ok := r[channel]; ok && rule.Label != "" {
		return rule.Label
	}
	return channel
}

func bounded(label string, min, max float64, excluded ...float64) Rule {
	return Rule{Label: label, Range: Range{Min: min, Max: max}, Excluded: excluded}
}

var inf = math.Inf(1)

// DefaultRules is the rule table for the sensor channels reported by the device feed
var DefaultRules = Rules{
	"pm2_5":               bounded("PM 2.5", 1, 1000),
	"pm10":                bounded("PM 10", 1, 1000),
	"s2_pm2_5":            bounded("Sensor-2 PM 2.5", 1, 1000),
	"s2_pm10":             bounded("Sensor-2 PM 10", 1, 1000),
	"latitude":            bounded("Latitude", -90, 90, 0, 1000),
	"longitude":           bounded("Longitude", -180, 180, 0, 1000),
	"battery":             bounded("Battery", 2.7, 5),
	"altitude":            bounded("Altitude", 0, inf, 0),
	"speed":               bounded("Speed", 0, inf, 0),
	"satellites":          bounded("Satellites", 0, 50, 0),
	"hdop":                bounded("Hdop", 0, inf, 0),
	"internalTemperature": bounded("Internal Temperature", 0, 100),
	"externalTemperature": bounded("External Temperature", 0, 100),
	"internalHumidity":    bounded("Internal Humidity", 0, 100),
	"ExternalHumidity":    bounded("External Humidity", 0, 100),
	"ExternalPressure":    bounded("External Pressure", 0, 100),
	"TVOC":                bounded("Total Volatile Organic Compounds", 0, 5500),
	"HCHO":                bounded("Formaldehyde", 0, 0.5),
	"CO2":                 bounded("Carbon dioxide", 0, 50000),
	"IntakeTemperature":   bounded("Intake Temperature", 0, 100),
	"IntakeHumidity":      bounded("Intake Humidity", 0, 100),
	"BatteryVoltage":      bounded("Battery Voltage", 0, 100),
}

// Merge returns a copy of r with overrides layered on top
func (r Rules) Merge(overrides Rules) Rules {
	merged := make(Rules, len(r)+len(overrides))
	for k, v := range r {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// Bounded builds a rule for a channel with an inclusive range and optional sentinel values
func Bounded(label string, min, max float64, excluded ...float64) Rule {
	return bounded(label, min, max, excluded...)
}
