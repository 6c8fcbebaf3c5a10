package services

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/poofware/attestation-service/internal/appattest"
	"github.com/poofware/attestation-service/internal/models"
	"github.com/poofware/attestation-service/internal/utils"
)

const (
	appAttestFormat = "apple-appattest"

	// A genuine attestation object carries a certificate chain and runs to
	// several kilobytes; anything under this is not worth decoding.
	minAttestationSize = 512

	// Legacy DeviceCheck token bounds (shape check only).
	minDeviceTokenLen = 32
	maxDeviceTokenLen = 8192
)

// IOSAttestConfig holds the app identity the verifier binds tokens to.
type IOSAttestConfig struct {
	TeamID   string
	BundleID string
}

// IOSAttestService verifies App Attest attestations and assertions plus the
// legacy DeviceCheck token fallback. Verification failures are returned as
// outcomes with Verified=false, never as errors: the transport succeeds
// while the semantic answer is "not trusted".
type IOSAttestService struct {
	teamID   string
	bundleID string
}

func NewIOSAttestService(cfg IOSAttestConfig) *IOSAttestService {
	return &IOSAttestService{
		teamID:   cfg.TeamID,
		bundleID: cfg.BundleID,
	}
}

func reject(riskScore int, message string) *models.VerificationOutcome {
	return &models.VerificationOutcome{
		Verified:  false,
		RiskScore: riskScore,
		Message:   message,
	}
}

// VerifyAttestation checks an initial App Attest registration and extracts
// the credential public key for later assertions.
func (s *IOSAttestService) VerifyAttestation(attestation []byte, bundleIDOverride string) *models.VerificationOutcome {
	if len(attestation) < minAttestationSize {
		return reject(100, "attestation object implausibly small")
	}

	decoded := appattest.DecodeCBOR(attestation)
	obj, ok := decoded.(map[string]any)
	if !ok {
		return reject(100, "attestation object is not a valid envelope")
	}

	format, _ := obj["fmt"].(string)
	if format != appAttestFormat {
		return reject(100, fmt.Sprintf("unexpected attestation format %q", format))
	}

	authData, _ := obj["authData"].([]byte)
	ad := appattest.ParseAuthenticatorData(authData)
	if ad == nil {
		return reject(100, "malformed authenticator data")
	}

	if s.teamID != "" && s.bundleID != "" {
		bundleID := s.bundleID
		if bundleIDOverride != "" {
			bundleID = bundleIDOverride
		}
		appID := s.teamID + "." + bundleID
		expected := sha256.Sum256([]byte(appID))
		if !bytes.Equal(ad.RPIDHash, expected[:]) {
			utils.Logger.Warnf("App Attest origin hash mismatch for app id %s", appID)
			return reject(100, "app identity mismatch")
		}
	}

	pubDER := appattest.CredentialPublicKeyDER(ad.PublicKey)
	if pubDER == nil {
		return reject(100, "malformed credential public key")
	}

	outcome := &models.VerificationOutcome{
		Verified:   true,
		PublicKey:  pubDER,
		NewCounter: 0,
		HasCounter: true,
		Verdicts:   map[string]any{"format": appAttestFormat},
	}

	// Presence-only chain check: two certificates (credential + Apple
	// intermediate) earn the lower risk tier. The chain is not validated
	// against a root of trust here.
	attStmt, _ := obj["attStmt"].(map[string]any)
	chain, _ := attStmt["x5c"].([]any)
	if len(chain) >= 2 {
		outcome.RiskScore = 10
		outcome.Verdicts["certificate_chain"] = "present"
	} else {
		outcome.RiskScore = 30
		outcome.Message = "attestation accepted without certificate chain"
		outcome.Verdicts["certificate_chain"] = "absent"
	}

	return outcome
}

// VerifyAssertion checks a per-request proof of possession against the
// stored device record. The caller resolves the record first; an unknown
// key never reaches this method.
func (s *IOSAttestService) VerifyAssertion(assertion, clientDataHash []byte, stored *models.DeviceRecord) *models.VerificationOutcome {
	decoded := appattest.DecodeCBOR(assertion)
	obj, ok := decoded.(map[string]any)
	if !ok {
		return reject(100, "assertion object is not a valid envelope")
	}

	authData, _ := obj["authenticatorData"].([]byte)
	counter, ok := appattest.AssertionCounter(authData)
	if !ok {
		return reject(100, "malformed assertion authenticator data")
	}

	if int64(counter) <= stored.AssertionCounter {
		utils.Logger.Warnf(
			"Assertion counter replay for device %s: got %d, stored %d",
			stored.DeviceID, counter, stored.AssertionCounter,
		)
		return reject(100, "counter replay detected")
	}

	signature, _ := obj["signature"].([]byte)

	if len(stored.PublicKey) > 0 && len(signature) > 0 {
		rawSig := appattest.ConvertDERSignature(signature)
		if rawSig == nil {
			return reject(100, "malformed assertion signature")
		}
		if !appattest.VerifyRawSignature(stored.PublicKey, authData, clientDataHash, rawSig) {
			return reject(100, "assertion signature verification failed")
		}
		return &models.VerificationOutcome{
			Verified:   true,
			RiskScore:  5,
			NewCounter: int64(counter),
			HasCounter: true,
		}
	}

	// No stored key to check against: accept in degraded mode rather than
	// strand older registrations, at a higher risk score.
	return &models.VerificationOutcome{
		Verified:   true,
		RiskScore:  20,
		Message:    "assertion accepted without signature verification (no stored public key)",
		NewCounter: int64(counter),
		HasCounter: true,
	}
}

// VerifyDeviceCheckToken is the legacy fallback for devices without App
// Attest support. It validates token shape and length only; it contacts no
// verification backend, so it is a strictly weaker signal than the
// attestation and assertion paths.
func (s *IOSAttestService) VerifyDeviceCheckToken(token string) *models.VerificationOutcome {
	if len(token) < minDeviceTokenLen || len(token) > maxDeviceTokenLen {
		return reject(80, "device token has implausible length")
	}
	if _, err := utils.DecodeFlexB64(token); err != nil {
		return reject(80, "device token is not valid base64")
	}

	return &models.VerificationOutcome{
		Verified:  true,
		RiskScore: 40,
		Message:   "legacy device token accepted without backend verification; upgrade to App Attest",
	}
}
