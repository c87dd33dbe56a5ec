package geocoding

import "strings"

// UnknownLocation is the label used when a place carries nothing usable
const UnknownLocation = "Unknown Location"

var labelAddressFields = []string{
	"suburb",
	"neighbourhood",
	"residential",
	"road",
	"village",
	"town",
	"city",
}

// SiteLabel derives a short site name from a place: the first two segments of
// its display name, else the most specific address component
func SiteLabel(p *Place) string {
	if p == nil {
		return UnknownLocation
	}

	if p.DisplayName != "" {
		var parts []string
		for _, seg := range strings.Split(p.DisplayName, ",") {
			if seg = strings.TrimSpace(seg); seg != "" {
				parts = append(parts, seg)
			}
			if len(parts) == 2 {
				break
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, ", ")
		}
	}

	for _, field := range labelAddressFields {
		if v := strings.TrimSpace(p.Address[field]); v != "" {
			return v
		}
	}

	return UnknownLocation
}
