package dtos

// ----------------------
// iOS attestation
// ----------------------

// IOSAttestationRequest carries one of the three iOS proof types. The
// binary fields are base64; decoding tolerates both URL-safe and standard
// alphabets with or without padding.
type IOSAttestationRequest struct {
	Type           string `json:"type" validate:"required,oneof=attestation assertion device_check"`
	KeyID          string `json:"keyId" validate:"omitempty,min=8,max=128"`
	Attestation    string `json:"attestation,omitempty"`
	Challenge      string `json:"challenge,omitempty"`
	Assertion      string `json:"assertion,omitempty"`
	ClientDataHash string `json:"clientDataHash,omitempty"`
	Token          string `json:"token,omitempty"`
	BundleID       string `json:"bundleId,omitempty"`
}

// ----------------------
// Android attestation
// ----------------------

// AndroidAttestationRequest carries one of the two Android proof types.
// PackageName is an optional per-request override of the configured
// package, like the iOS bundleId override.
type AndroidAttestationRequest struct {
	Type           string `json:"type" validate:"required,oneof=integrity safetynet"`
	IntegrityToken string `json:"integrityToken,omitempty"`
	Nonce          string `json:"nonce,omitempty"`
	PackageName    string `json:"packageName,omitempty"`
	KeyID          string `json:"keyId,omitempty"`
}

// ----------------------
// Uniform response
// ----------------------

type AttestationResponse struct {
	Verified   bool           `json:"verified"`
	TrustLevel string         `json:"trustLevel"`
	Message    string         `json:"message,omitempty"`
	ExpiresAt  string         `json:"expiresAt"`
	RiskScore  int            `json:"riskScore"`
	DeviceID   string         `json:"deviceId,omitempty"`
	Platform   string         `json:"platform"`
	Verdicts   map[string]any `json:"verdicts,omitempty"`
}
