package services

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/poofware/attestation-service/internal/models"
	"github.com/poofware/attestation-service/internal/utils"
)

const (
	playIntegrityScope  = "https://www.googleapis.com/auth/playintegrity"
	oauthJWTBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// Verdict timestamps older than this are rejected as stale.
	maxVerdictAge = 10 * time.Minute

	// Cached access tokens are refreshed this long before they expire.
	tokenRefreshMargin = 60 * time.Second

	serviceCallTimeout = 10 * time.Second
)

// AccessTokenCache holds the process-wide bearer token for the verdict
// decode endpoint. Concurrent refreshes are tolerated: a duplicate exchange
// wastes one round trip but never yields a wrong token, so the lock only
// guards memory visibility.
type AccessTokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// Get returns the cached token, or "" when absent or within the refresh
// margin of its expiry.
func (c *AccessTokenCache) Get(now time.Time) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || now.After(c.expiresAt.Add(-tokenRefreshMargin)) {
		return ""
	}
	return c.token
}

// Put stores a freshly exchanged token.
func (c *AccessTokenCache) Put(token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = expiresAt
}

// AndroidIntegrityConfig wires the verifier to the Google endpoints and the
// service account used for the client-credentials exchange.
type AndroidIntegrityConfig struct {
	PackageName string

	// Service-account identity for the RS256 JWT-bearer assertion.
	ServiceAccountEmail string
	ServiceAccountKey   *rsa.PrivateKey

	// TokenURL defaults to Google's OAuth2 token endpoint; DecodeBaseURL
	// to the Play Integrity API host. Both are overridable for tests.
	TokenURL      string
	DecodeBaseURL string

	HTTPClient *http.Client
	Cache      *AccessTokenCache
	Now        func() time.Time
}

// AndroidIntegrityService verifies Play Integrity tokens via the external
// verdict decode endpoint, plus the deprecated SafetyNet fallback.
// Any failure of the external call is a verification failure: fail closed.
type AndroidIntegrityService struct {
	packageName string
	saEmail     string
	saKey       *rsa.PrivateKey
	tokenURL    string
	decodeURL   string
	client      *http.Client
	cache       *AccessTokenCache
	now         func() time.Time
}

func NewAndroidIntegrityService(cfg AndroidIntegrityConfig) *AndroidIntegrityService {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = "https://oauth2.googleapis.com/token"
	}
	decodeBase := cfg.DecodeBaseURL
	if decodeBase == "" {
		decodeBase = "https://playintegrity.googleapis.com"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: serviceCallTimeout}
	}
	cache := cfg.Cache
	if cache == nil {
		cache = &AccessTokenCache{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &AndroidIntegrityService{
		packageName: cfg.PackageName,
		saEmail:     cfg.ServiceAccountEmail,
		saKey:       cfg.ServiceAccountKey,
		tokenURL:    tokenURL,
		decodeURL:   fmt.Sprintf("%s/v1/%s:decodeIntegrityToken", strings.TrimRight(decodeBase, "/"), cfg.PackageName),
		client:      client,
		cache:       cache,
		now:         now,
	}
}

// integrityVerdict mirrors the decode endpoint's tokenPayloadExternal.
type integrityVerdict struct {
	TokenPayloadExternal struct {
		RequestDetails struct {
			RequestPackageName string `json:"requestPackageName"`
			Nonce              string `json:"nonce"`
			TimestampMillis    string `json:"timestampMillis"`
		} `json:"requestDetails"`
		DeviceIntegrity struct {
			DeviceRecognitionVerdict []string `json:"deviceRecognitionVerdict"`
		} `json:"deviceIntegrity"`
		AppIntegrity struct {
			AppRecognitionVerdict string `json:"appRecognitionVerdict"`
			PackageName           string `json:"packageName"`
		} `json:"appIntegrity"`
		AccountDetails struct {
			AppLicensingVerdict string `json:"appLicensingVerdict"`
		} `json:"accountDetails"`
	} `json:"tokenPayloadExternal"`
}

// VerifyIntegrityToken decodes a Play Integrity token through the external
// verdict service and scores the verdict tiers additively. A non-empty
// packageNameOverride replaces the configured package for the mismatch
// check, mirroring the bundle override on the iOS path.
func (s *AndroidIntegrityService) VerifyIntegrityToken(ctx context.Context, integrityToken, nonce, packageNameOverride string) *models.VerificationOutcome {
	verdict, err := s.decodeIntegrityToken(ctx, integrityToken)
	if err != nil {
		utils.Logger.WithError(err).Error("Play Integrity verdict decode failed")
		return &models.VerificationOutcome{
			Verified:      false,
			RiskScore:     100,
			Message:       "integrity verdict service unavailable: " + err.Error(),
			TrustOverride: models.TrustSuspicious,
		}
	}

	pl := verdict.TokenPayloadExternal

	expectedPackage := s.packageName
	if packageNameOverride != "" {
		expectedPackage = packageNameOverride
	}
	if pl.RequestDetails.RequestPackageName != expectedPackage {
		utils.Logger.Warnf(
			"Play Integrity package mismatch: expected %q, got %q",
			expectedPackage, pl.RequestDetails.RequestPackageName,
		)
		return &models.VerificationOutcome{
			Verified:      false,
			RiskScore:     100,
			Message:       "package name mismatch",
			TrustOverride: models.TrustSuspicious,
		}
	}

	if nonce != "" && pl.RequestDetails.Nonce != nonce {
		return &models.VerificationOutcome{
			Verified:      false,
			RiskScore:     100,
			Message:       "nonce mismatch",
			TrustOverride: models.TrustSuspicious,
		}
	}

	if ts := parseMillis(pl.RequestDetails.TimestampMillis); !ts.IsZero() {
		if s.now().Sub(ts) > maxVerdictAge {
			return &models.VerificationOutcome{
				Verified:      false,
				RiskScore:     80,
				Message:       "integrity verdict is stale",
				TrustOverride: models.TrustSuspicious,
			}
		}
	}

	deviceRisk, deviceTier := scoreDeviceVerdicts(pl.DeviceIntegrity.DeviceRecognitionVerdict)
	appRisk := scoreAppVerdict(pl.AppIntegrity.AppRecognitionVerdict)
	accountRisk := scoreAccountVerdict(pl.AccountDetails.AppLicensingVerdict)
	risk := deviceRisk + appRisk + accountRisk

	outcome := &models.VerificationOutcome{
		Verified:      deviceTier >= deviceTierBasic,
		RiskScore:     risk,
		TrustOverride: trustFromIntegrityRisk(risk),
		Verdicts: map[string]any{
			"device_recognition": pl.DeviceIntegrity.DeviceRecognitionVerdict,
			"app_recognition":    pl.AppIntegrity.AppRecognitionVerdict,
			"app_licensing":      pl.AccountDetails.AppLicensingVerdict,
			"device_risk":        deviceRisk,
			"app_risk":           appRisk,
			"account_risk":       accountRisk,
		},
	}
	if !outcome.Verified {
		outcome.Message = "device integrity not met"
	}
	return outcome
}

// Device verdict tiers, strongest first.
const (
	deviceTierNone = iota
	deviceTierVirtual
	deviceTierBasic
	deviceTierDevice
	deviceTierStrong
)

func scoreDeviceVerdicts(verdicts []string) (risk, tier int) {
	tier = deviceTierNone
	for _, v := range verdicts {
		var t int
		switch v {
		case "MEETS_STRONG_INTEGRITY":
			t = deviceTierStrong
		case "MEETS_DEVICE_INTEGRITY":
			t = deviceTierDevice
		case "MEETS_BASIC_INTEGRITY":
			t = deviceTierBasic
		case "MEETS_VIRTUAL_INTEGRITY":
			t = deviceTierVirtual
		default:
			continue
		}
		if t > tier {
			tier = t
		}
	}

	switch tier {
	case deviceTierStrong:
		return 0, tier
	case deviceTierDevice:
		return 10, tier
	case deviceTierBasic:
		return 30, tier
	case deviceTierVirtual:
		return 50, tier
	default:
		return 70, tier
	}
}

func scoreAppVerdict(verdict string) int {
	switch verdict {
	case "PLAY_RECOGNIZED":
		return 0
	case "UNRECOGNIZED_VERSION":
		return 10
	default: // UNEVALUATED or unknown
		return 20
	}
}

func scoreAccountVerdict(verdict string) int {
	switch verdict {
	case "LICENSED":
		return 0
	case "UNEVALUATED":
		return 5
	default: // UNLICENSED or unknown
		return 15
	}
}

func trustFromIntegrityRisk(risk int) models.TrustLevel {
	switch {
	case risk <= 10:
		return models.TrustVerified
	case risk <= 30:
		return models.TrustTrusted
	case risk <= 60:
		return models.TrustUnknown
	default:
		return models.TrustSuspicious
	}
}

func parseMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	var ms int64
	if _, err := fmt.Sscanf(s, "%d", &ms); err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (s *AndroidIntegrityService) decodeIntegrityToken(ctx context.Context, integrityToken string) (*integrityVerdict, error) {
	bearer, err := s.accessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrExternalServiceFailure, err)
	}

	body, err := json.Marshal(map[string]string{"integrityToken": integrityToken})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.decodeURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: decode call: %v", utils.ErrExternalServiceFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: decode endpoint returned %d: %s",
			utils.ErrExternalServiceFailure, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var verdict integrityVerdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("%w: decode response parse: %v", utils.ErrExternalServiceFailure, err)
	}
	return &verdict, nil
}

// accessToken returns a cached bearer token or performs the OAuth2
// JWT-bearer exchange: an RS256 assertion signed with the service-account
// key, one hour validity.
func (s *AndroidIntegrityService) accessToken(ctx context.Context) (string, error) {
	if tok := s.cache.Get(s.now()); tok != "" {
		return tok, nil
	}

	now := s.now()
	claims := jwt.MapClaims{
		"iss":   s.saEmail,
		"scope": playIntegrityScope,
		"aud":   s.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.saKey)
	if err != nil {
		return "", fmt.Errorf("sign service-account assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", oauthJWTBearerGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token endpoint returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("token response parse: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty access token")
	}

	s.cache.Put(tokenResp.AccessToken, now.Add(time.Duration(tokenResp.ExpiresIn)*time.Second))
	return tokenResp.AccessToken, nil
}

// SafetyNet flag bonuses subtracted from the base risk of 40.
const (
	safetyNetBaseRisk   = 40
	safetyNetCTSBonus   = 15
	safetyNetBasicBonus = 10
	safetyNetFailedRisk = 80
)

// VerifySafetyNetToken handles the deprecated SafetyNet attestation format:
// a three-part JWS whose middle segment carries the integrity booleans. The
// signature is not re-verified here; the path exists only for old clients
// and always responds with a deprecation advisory.
func (s *AndroidIntegrityService) VerifySafetyNetToken(token string) *models.VerificationOutcome {
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return reject(80, "malformed SafetyNet token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return reject(80, "malformed SafetyNet payload")
	}

	ctsProfileMatch, _ := claims["ctsProfileMatch"].(bool)
	basicIntegrity, _ := claims["basicIntegrity"].(bool)

	if !ctsProfileMatch && !basicIntegrity {
		return &models.VerificationOutcome{
			Verified:      false,
			RiskScore:     safetyNetFailedRisk,
			Message:       "SafetyNet integrity checks failed",
			TrustOverride: models.TrustSuspicious,
			Verdicts: map[string]any{
				"cts_profile_match": false,
				"basic_integrity":   false,
			},
		}
	}

	risk := safetyNetBaseRisk
	if ctsProfileMatch {
		risk -= safetyNetCTSBonus
	}
	if basicIntegrity {
		risk -= safetyNetBasicBonus
	}

	return &models.VerificationOutcome{
		Verified:  true,
		RiskScore: risk,
		Message:   "SafetyNet is deprecated; migrate to the Play Integrity API",
		Verdicts: map[string]any{
			"cts_profile_match": ctsProfileMatch,
			"basic_integrity":   basicIntegrity,
		},
	}
}
