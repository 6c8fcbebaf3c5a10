package dtos

// ----------------------
// Certificate pins
// ----------------------

// PinsResponse is the full pin document. Exactly one of the three
// platform payload fields is populated, matching the detected platform.
type PinsResponse struct {
	Version    int            `json:"version"`
	Platform   string         `json:"platform"`
	ValidUntil string         `json:"validUntil,omitempty"`
	IOS        map[string]any `json:"ios,omitempty"`
	Android    map[string]any `json:"android,omitempty"`
	WebHeader  string         `json:"webHeader,omitempty"`
}

// LegacyPinsResponse is the reduced shape served to clients that ask for
// the v1 vendor media type or run below the minimum app version.
type LegacyPinsResponse struct {
	Pins []string `json:"pins"`
}
