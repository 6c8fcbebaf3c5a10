package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/poofware/attestation-service/internal/models"
	"github.com/poofware/attestation-service/internal/repositories"
	"github.com/poofware/attestation-service/internal/utils"
)

// deviceIDNamespace keeps stored device ids decoupled from the raw,
// client-supplied key identifier.
const deviceIDNamespace = "poof-device-trust:v1:"

// DeriveDeviceID pseudonymizes a key identifier for the storage layer:
// SHA-256 over the namespace plus the key id, truncated to 16 bytes, hex.
func DeriveDeviceID(keyID string) string {
	sum := sha256.Sum256([]byte(deviceIDNamespace + keyID))
	return hex.EncodeToString(sum[:16])
}

// Classify is the pure trust classification. Identical inputs always yield
// the identical level; it is recomputed on every call, never cached, so a
// device can both earn an upgrade from its track record and be re-derived
// from the same risk signal.
func Classify(verified bool, riskScore, verificationCount int) models.TrustLevel {
	switch {
	case !verified || riskScore >= 80:
		return models.TrustSuspicious
	case riskScore >= 50:
		return models.TrustUnknown
	case verificationCount > 5 && riskScore < 20:
		return models.TrustVerified
	default:
		return models.TrustTrusted
	}
}

// DeviceTrustService owns the per-device persisted state and folds
// verification outcomes into it.
type DeviceTrustService interface {
	// Record persists an outcome for keyID and returns the stored record
	// with its freshly derived trust level.
	Record(ctx context.Context, platform utils.PlatformType, keyID string, outcome *models.VerificationOutcome) (*models.DeviceRecord, error)

	// Lookup returns nil, nil for an unknown key.
	Lookup(ctx context.Context, keyID string) (*models.DeviceRecord, error)
}

type deviceTrustService struct {
	repo repositories.DeviceRecordRepository
	now  func() time.Time
}

func NewDeviceTrustService(repo repositories.DeviceRecordRepository) DeviceTrustService {
	return &deviceTrustService{repo: repo, now: time.Now}
}

func (s *deviceTrustService) Lookup(ctx context.Context, keyID string) (*models.DeviceRecord, error) {
	return s.repo.GetByKeyID(ctx, keyID)
}

func (s *deviceTrustService) Record(
	ctx context.Context,
	platform utils.PlatformType,
	keyID string,
	outcome *models.VerificationOutcome,
) (*models.DeviceRecord, error) {
	flags := map[string]any{
		"last_verified":    outcome.Verified,
		"last_risk_score":  outcome.RiskScore,
		"last_verified_at": s.now().UTC().Format(time.RFC3339),
	}
	if outcome.Message != "" {
		flags["last_message"] = outcome.Message
	}
	if len(outcome.Verdicts) > 0 {
		flags["last_verdicts"] = outcome.Verdicts
	}

	rec := &models.DeviceRecord{
		DeviceID:  DeriveDeviceID(keyID),
		KeyID:     keyID,
		PublicKey: outcome.PublicKey,
		RiskScore: outcome.RiskScore,
		Platform:  platform.String(),
		Flags:     flags,
	}
	if outcome.HasCounter {
		rec.AssertionCounter = outcome.NewCounter
	}

	stored, err := s.repo.Upsert(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("record device outcome: %w", err)
	}

	// Classification uses this call's risk signal, not the stored floor:
	// a clean history must not mask a bad proof.
	level := Classify(outcome.Verified, outcome.RiskScore, stored.VerificationCount)
	if outcome.TrustOverride != "" {
		level = outcome.TrustOverride
	}

	if stored.TrustLevel != level {
		if err := s.repo.UpdateTrustLevel(ctx, keyID, level); err != nil {
			utils.Logger.WithError(err).Warn("Failed to persist trust level update")
		}
	}
	stored.TrustLevel = level

	return stored, nil
}
