package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/poofware/attestation-service/internal/models"
)

// DeviceRecordRepository is the keyed upsert store for device trust records.
type DeviceRecordRepository interface {
	// GetByKeyID returns nil, nil when no record exists for the key.
	GetByKeyID(ctx context.Context, keyID string) (*models.DeviceRecord, error)

	// Upsert folds a verification outcome into the persisted record in a
	// single statement: create-on-first-sight, verification_count+1,
	// risk_score = LEAST(stored, new), assertion_counter =
	// GREATEST(stored, new), public_key overwritten only when non-nil.
	// Returns the record as stored after the fold.
	Upsert(ctx context.Context, rec *models.DeviceRecord) (*models.DeviceRecord, error)

	// UpdateTrustLevel writes the re-derived classification. The trust
	// level is a derived value, so a last-writer-wins update is fine here;
	// the risk/counter invariants are enforced database-side in Upsert.
	UpdateTrustLevel(ctx context.Context, keyID string, level models.TrustLevel) error
}

type deviceRecordRepo struct {
	db DB
}

func NewDeviceRecordRepository(db DB) DeviceRecordRepository {
	return &deviceRecordRepo{db: db}
}

func (r *deviceRecordRepo) GetByKeyID(ctx context.Context, keyID string) (*models.DeviceRecord, error) {
	q := `
SELECT device_id, key_id, public_key, trust_level, assertion_counter,
       verification_count, risk_score, platform, flags,
       created_at, updated_at, last_seen
FROM device_records
WHERE key_id = $1
`
	rec, err := scanDeviceRecord(r.db.QueryRow(ctx, q, keyID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device record: %w", err)
	}
	return rec, nil
}

func (r *deviceRecordRepo) Upsert(ctx context.Context, rec *models.DeviceRecord) (*models.DeviceRecord, error) {
	flagsJSON, err := json.Marshal(rec.Flags)
	if err != nil {
		return nil, fmt.Errorf("marshal flags: %w", err)
	}

	q := `
INSERT INTO device_records (
    device_id, key_id, public_key, trust_level, assertion_counter,
    verification_count, risk_score, platform, flags,
    created_at, updated_at, last_seen
)
VALUES ($1, $2, $3, $4, $5, 1, $6, $7, $8, NOW(), NOW(), NOW())
ON CONFLICT (key_id) DO UPDATE SET
    public_key         = COALESCE(EXCLUDED.public_key, device_records.public_key),
    assertion_counter  = GREATEST(device_records.assertion_counter, EXCLUDED.assertion_counter),
    verification_count = device_records.verification_count + 1,
    risk_score         = LEAST(device_records.risk_score, EXCLUDED.risk_score),
    platform           = EXCLUDED.platform,
    flags              = EXCLUDED.flags,
    updated_at         = NOW(),
    last_seen          = NOW()
RETURNING device_id, key_id, public_key, trust_level, assertion_counter,
          verification_count, risk_score, platform, flags,
          created_at, updated_at, last_seen
`
	stored, err := scanDeviceRecord(r.db.QueryRow(ctx, q,
		rec.DeviceID,
		rec.KeyID,
		rec.PublicKey,
		rec.TrustLevel,
		rec.AssertionCounter,
		rec.RiskScore,
		rec.Platform,
		flagsJSON,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert device record: %w", err)
	}
	return stored, nil
}

func (r *deviceRecordRepo) UpdateTrustLevel(ctx context.Context, keyID string, level models.TrustLevel) error {
	q := `
UPDATE device_records
SET trust_level = $2, updated_at = NOW()
WHERE key_id = $1
`
	_, err := r.db.Exec(ctx, q, keyID, level)
	return err
}

func scanDeviceRecord(row pgx.Row) (*models.DeviceRecord, error) {
	var rec models.DeviceRecord
	var flagsJSON []byte
	err := row.Scan(
		&rec.DeviceID,
		&rec.KeyID,
		&rec.PublicKey,
		&rec.TrustLevel,
		&rec.AssertionCounter,
		&rec.VerificationCount,
		&rec.RiskScore,
		&rec.Platform,
		&flagsJSON,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.LastSeen,
	)
	if err != nil {
		return nil, err
	}
	if len(flagsJSON) > 0 {
		_ = json.Unmarshal(flagsJSON, &rec.Flags)
	}
	return &rec, nil
}
