package controllers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/poofware/attestation-service/internal/dtos"
	"github.com/poofware/attestation-service/internal/models"
	"github.com/poofware/attestation-service/internal/services"
	"github.com/poofware/attestation-service/internal/utils"
)

const (
	// Registration and fallback outcomes are good for a day; a
	// per-request assertion only vouches for the next few minutes.
	registrationValidity = 24 * time.Hour
	assertionValidity    = 5 * time.Minute
)

var attestValidate = validator.New()

type AttestationController struct {
	iosService     *services.IOSAttestService
	androidService *services.AndroidIntegrityService
	trustService   services.DeviceTrustService
	now            func() time.Time
}

func NewAttestationController(
	ios *services.IOSAttestService,
	android *services.AndroidIntegrityService,
	trust services.DeviceTrustService,
) *AttestationController {
	return &AttestationController{
		iosService:     ios,
		androidService: android,
		trustService:   trust,
		now:            time.Now,
	}
}

// AttestIOS handles POST /ios.
func (c *AttestationController) AttestIOS(w http.ResponseWriter, r *http.Request) {
	var req dtos.IOSAttestationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid payload", nil, err,
		)
		return
	}
	c.handleIOS(w, r, req)
}

// AttestAndroid handles POST /android.
func (c *AttestationController) AttestAndroid(w http.ResponseWriter, r *http.Request) {
	var req dtos.AndroidAttestationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid payload", nil, err,
		)
		return
	}
	c.handleAndroid(w, r, req)
}

// AttestAuto handles POST /: the body is tried against each platform
// schema in turn, using the type discriminator to pick the verifier.
func (c *AttestationController) AttestAuto(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid payload", nil, err,
		)
		return
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid payload", nil, err,
		)
		return
	}

	switch head.Type {
	case "attestation", "assertion", "device_check":
		var req dtos.IOSAttestationRequest
		if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
			utils.RespondErrorWithCode(
				w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid payload", nil, err,
			)
			return
		}
		c.handleIOS(w, r, req)
	case "integrity", "safetynet":
		var req dtos.AndroidAttestationRequest
		if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
			utils.RespondErrorWithCode(
				w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid payload", nil, err,
			)
			return
		}
		c.handleAndroid(w, r, req)
	default:
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeUnknownAttestationType,
			"Unknown attestation type", map[string]string{"type": head.Type},
		)
	}
}

// missingIOSFields lists the per-subtype required fields that are absent.
// Shape errors are rejected here, before any verification logic runs; a
// request is never silently defaulted onto the empty key id.
func missingIOSFields(req dtos.IOSAttestationRequest) []string {
	var missing []string
	switch req.Type {
	case "attestation":
		if req.KeyID == "" {
			missing = append(missing, "keyId")
		}
		if req.Attestation == "" {
			missing = append(missing, "attestation")
		}
	case "assertion":
		if req.KeyID == "" {
			missing = append(missing, "keyId")
		}
		if req.Assertion == "" {
			missing = append(missing, "assertion")
		}
		if req.ClientDataHash == "" {
			missing = append(missing, "clientDataHash")
		}
	case "device_check":
		if req.Token == "" {
			missing = append(missing, "token")
		}
	}
	return missing
}

func missingAndroidFields(req dtos.AndroidAttestationRequest) []string {
	var missing []string
	if req.IntegrityToken == "" {
		missing = append(missing, "integrityToken")
	}
	return missing
}

func (c *AttestationController) handleIOS(w http.ResponseWriter, r *http.Request, req dtos.IOSAttestationRequest) {
	if err := attestValidate.Struct(req); err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid request fields", err.Error(),
		)
		return
	}
	if missing := missingIOSFields(req); len(missing) > 0 {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeValidation,
			"Missing required fields", map[string]any{"missing": missing},
		)
		return
	}

	switch req.Type {
	case "attestation":
		attestation, err := utils.DecodeFlexB64(req.Attestation)
		if err != nil {
			utils.RespondErrorWithCode(
				w, http.StatusBadRequest, utils.ErrCodeValidation, "attestation is not valid base64", nil, err,
			)
			return
		}
		outcome := c.iosService.VerifyAttestation(attestation, req.BundleID)
		c.respond(w, r, utils.PlatformIOS, req.KeyID, outcome, registrationValidity)

	case "assertion":
		assertion, err := utils.DecodeFlexB64(req.Assertion)
		if err != nil {
			utils.RespondErrorWithCode(
				w, http.StatusBadRequest, utils.ErrCodeValidation, "assertion is not valid base64", nil, err,
			)
			return
		}
		clientDataHash, err := utils.DecodeFlexB64(req.ClientDataHash)
		if err != nil {
			utils.RespondErrorWithCode(
				w, http.StatusBadRequest, utils.ErrCodeValidation, "clientDataHash is not valid base64", nil, err,
			)
			return
		}

		stored, err := c.trustService.Lookup(r.Context(), req.KeyID)
		if err != nil {
			utils.RespondErrorWithCode(
				w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to load device record", nil, err,
			)
			return
		}
		if stored == nil {
			// A key we have never seen is not an error: the client is
			// told to re-attest. No record is created for it.
			utils.RespondWithJSON(w, http.StatusOK, dtos.AttestationResponse{
				Verified:   false,
				TrustLevel: string(models.TrustUnknown),
				Message:    "unknown key id; attestation required",
				ExpiresAt:  c.now().Add(assertionValidity).UTC().Format(time.RFC3339),
				RiskScore:  100,
				Platform:   utils.PlatformIOS.String(),
			})
			return
		}

		outcome := c.iosService.VerifyAssertion(assertion, clientDataHash, stored)
		c.respond(w, r, utils.PlatformIOS, req.KeyID, outcome, assertionValidity)

	case "device_check":
		outcome := c.iosService.VerifyDeviceCheckToken(req.Token)
		keyID := req.KeyID
		if keyID == "" {
			keyID = utils.HashToken(req.Token)
		}
		c.respond(w, r, utils.PlatformIOS, keyID, outcome, registrationValidity)

	default:
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeUnknownAttestationType,
			"Unknown attestation type", map[string]string{"type": req.Type},
		)
	}
}

func (c *AttestationController) handleAndroid(w http.ResponseWriter, r *http.Request, req dtos.AndroidAttestationRequest) {
	if err := attestValidate.Struct(req); err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid request fields", err.Error(),
		)
		return
	}
	if missing := missingAndroidFields(req); len(missing) > 0 {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeValidation,
			"Missing required fields", map[string]any{"missing": missing},
		)
		return
	}

	var outcome *models.VerificationOutcome
	switch req.Type {
	case "integrity":
		outcome = c.androidService.VerifyIntegrityToken(r.Context(), req.IntegrityToken, req.Nonce, req.PackageName)
	case "safetynet":
		outcome = c.androidService.VerifySafetyNetToken(req.IntegrityToken)
	default:
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeUnknownAttestationType,
			"Unknown attestation type", map[string]string{"type": req.Type},
		)
		return
	}

	keyID := req.KeyID
	if keyID == "" {
		keyID = utils.HashToken(req.IntegrityToken)
	}
	c.respond(w, r, utils.PlatformAndroid, keyID, outcome, registrationValidity)
}

// respond folds the outcome into the device record and writes the uniform
// response. Verification failures still travel as 200: the transport
// succeeded, the semantic answer is in the body.
func (c *AttestationController) respond(
	w http.ResponseWriter,
	r *http.Request,
	platform utils.PlatformType,
	keyID string,
	outcome *models.VerificationOutcome,
	validity time.Duration,
) {
	stored, err := c.trustService.Record(r.Context(), platform, keyID, outcome)
	if err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to persist device record", nil, err,
		)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, dtos.AttestationResponse{
		Verified:   outcome.Verified,
		TrustLevel: string(stored.TrustLevel),
		Message:    outcome.Message,
		ExpiresAt:  c.now().Add(validity).UTC().Format(time.RFC3339),
		RiskScore:  outcome.RiskScore,
		DeviceID:   stored.DeviceID,
		Platform:   platform.String(),
		Verdicts:   outcome.Verdicts,
	})
}
