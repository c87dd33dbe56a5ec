package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// feedMetaKeys are response fields of the recent feed endpoint that are not channels
var feedMetaKeys = map[string]bool{
	"isCache":    true,
	"created_at": true,
	"errors":     true,
	"success":    true,
	"message":    true,
}

// TelemetrySnapshot is a point-in-time reading of every channel of a device
type TelemetrySnapshot struct {
	Channels  map[string]string `json:"channels"`
	CreatedAt time.Time         `json:"created_at"`
}

// UnmarshalJSON decodes the flat recent-feed shape `{<channel>: value, ..., created_at}`
func (t *TelemetrySnapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode feed: %w", err)
	}

	t.Channels = make(map[string]string, len(raw))
	for key, value := range raw {
		if key == "created_at" {
			var ts string
			if err := json.Unmarshal(value, &ts); err != nil {
				return fmt.Errorf("decode created_at: %w", err)
			}
			created, err := parseFeedTime(ts)
			if err != nil {
				return err
			}
			t.CreatedAt = created
			continue
		}
		if feedMetaKeys[key] {
			continue
		}
		t.Channels[key] = rawString(value)
	}

	return nil
}

// Keys returns channel names in a stable order
func (t *TelemetrySnapshot) Keys() []string {
	keys := make([]string, 0, len(t.Channels))
	for k := range t.Channels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func rawString(value json.RawMessage) string {
	value = bytes.TrimSpace(value)
	if len(value) > 0 && value[0] == '"' {
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			return s
		}
	}
	if string(value) == "null" {
		return ""
	}
	return string(value)
}

func parseFeedTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid created_at %q", s)
}
