package models

import "time"

// TrustLevel is the coarse device classification derived from risk score
// and verification history.
type TrustLevel string

const (
	TrustUnknown    TrustLevel = "unknown"
	TrustTrusted    TrustLevel = "trusted"
	TrustVerified   TrustLevel = "verified"
	TrustSuspicious TrustLevel = "suspicious"
	TrustBlocked    TrustLevel = "blocked"
)

// DeviceRecord is one row per attested key identifier.
//
// risk_score holds the minimum risk ever observed (a floor that only
// tightens); assertion_counter only increases. Records are created on the
// first verification attempt and never deleted by this service.
type DeviceRecord struct {
	DeviceID          string         `json:"device_id"`
	KeyID             string         `json:"key_id"`
	PublicKey         []byte         `json:"-"` // PKIX DER, nil until first successful attestation
	TrustLevel        TrustLevel     `json:"trust_level"`
	AssertionCounter  int64          `json:"assertion_counter"`
	VerificationCount int            `json:"verification_count"`
	RiskScore         int            `json:"risk_score"`
	Platform          string         `json:"platform"`
	Flags             map[string]any `json:"flags,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	LastSeen          time.Time      `json:"last_seen"`
}

// VerificationOutcome is the transient result a verifier hands to the
// device trust service. It is never persisted as its own entity.
type VerificationOutcome struct {
	Verified  bool
	RiskScore int // 0..100, this call only (the stored floor is min-folded)
	Message   string

	// PublicKey is set by attestation events only; assertion and legacy
	// events leave the stored key untouched.
	PublicKey []byte

	// NewCounter carries the accepted assertion counter. HasCounter is
	// false for paths that do not advance the counter.
	NewCounter int64
	HasCounter bool

	// Verdicts holds platform-specific detail for the response and the
	// record's diagnostic flag bag.
	Verdicts map[string]any

	// TrustOverride, when non-empty, replaces the classifier's output.
	// The Play Integrity path maps its additive tier risk to a trust
	// level with its own thresholds.
	TrustOverride TrustLevel
}
