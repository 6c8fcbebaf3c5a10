package models

import "time"

// PinType says where in the chain a pinned key lives.
type PinType string

const (
	PinTypeLeaf         PinType = "leaf"
	PinTypeIntermediate PinType = "intermediate"
	PinTypeRoot         PinType = "root"
)

// CertificatePin is one SPKI pin distributed to clients.
type CertificatePin struct {
	Hash        string    `json:"hash"` // base64 SHA-256 of the SubjectPublicKeyInfo
	Type        PinType   `json:"type"`
	Expires     time.Time `json:"expires"`
	Priority    int       `json:"priority"`
	Description string    `json:"description,omitempty"`
}

// PinConfig is the externally supplied, versioned pin configuration.
// Pins live in a config document rather than compile-time constants so a
// rotation does not require a code change.
type PinConfig struct {
	Version      int              `json:"version"`
	CurrentPins  []CertificatePin `json:"current_pins"`
	UpcomingPins []CertificatePin `json:"upcoming_pins"`

	// GracePeriodDays is the window before the earliest current expiry
	// during which upcoming pins are distributed alongside current ones.
	GracePeriodDays int `json:"grace_period_days"`

	// Rotation-warning thresholds in days until the earliest expiry.
	CriticalThresholdDays int `json:"critical_threshold_days"`
	WarningThresholdDays  int `json:"warning_threshold_days"`

	// NextRotation is the next planned rotation date, consulted when no
	// expiry is imminent.
	NextRotation time.Time `json:"next_rotation"`

	// MaxAgeSeconds feeds the web header directive and Cache-Control.
	MaxAgeSeconds int `json:"max_age_seconds"`

	// MinimumAppVersion marks the oldest client release that understands
	// the full pin document; older clients get the reduced legacy shape.
	MinimumAppVersion string `json:"minimum_app_version,omitempty"`
}
