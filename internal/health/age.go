package health

import (
	"fmt"
	"time"
)

// StaleThreshold is the age after which a snapshot is rendered as stale
const StaleThreshold = 5 * time.Hour

// JustNow is reported for snapshots younger than a minute
const JustNow = "Just now"

type durationUnit struct {
	name    string
	seconds int64
}

const (
	secondsPerMinute = 60
	secondsPerHour   = 60 * secondsPerMinute
	secondsPerDay    = 24 * secondsPerHour
	secondsPerMonth  = 30 * secondsPerDay
	secondsPerYear   = 365 * secondsPerDay
)

// largest first
var durationUnits = []durationUnit{
	{"year", secondsPerYear},
	{"month", secondsPerMonth},
	{"day", secondsPerDay},
	{"hour", secondsPerHour},
	{"minute", secondsPerMinute},
}

// AgeInfo describes how old a snapshot is relative to now
type AgeInfo struct {
	Seconds int64  `json:"seconds"`
	Text    string `json:"text,omitempty"`
	Stale   bool   `json:"stale"`

	// Future is set when the snapshot is dated after now; Text is then empty
	Future bool `json:"future"`
}

// Age computes the elapsed age of a snapshot created at createdAt
func Age(createdAt, now time.Time) AgeInfo {
	if createdAt.After(now) {
		return AgeInfo{Future: true}
	}

	elapsed := int64(now.Sub(createdAt) / time.Second)
	return AgeInfo{
		Seconds: elapsed,
		Text:    FormatElapsed(elapsed),
		Stale:   time.Duration(elapsed)*time.Second > StaleThreshold,
	}
}

// FormatElapsed renders a non-negative number of seconds using the largest
// whole unit, e.g. "2 hours ago"
func FormatElapsed(seconds int64) string {
	if seconds < secondsPerMinute {
		return JustNow
	}

	for _, unit := range durationUnits {
		if seconds < unit.seconds {
			continue
		}
		n := seconds / unit.seconds
		name := unit.name
		if n != 1 {
			name += "s"
		}
		return fmt.Sprintf("%d %s ago", n, name)
	}

	return JustNow
}
