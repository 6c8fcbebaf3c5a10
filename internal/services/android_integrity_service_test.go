package services

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/poofware/attestation-service/internal/models"
)

const testPackageName = "com.poof.app"

type integrityFixture struct {
	svc        *AndroidIntegrityService
	tokenCalls *int
	now        time.Time
	server     *httptest.Server
}

// newIntegrityFixture spins up a fake token endpoint and verdict decode
// endpoint and wires the service to them with a frozen clock.
func newIntegrityFixture(t *testing.T, verdict map[string]any) *integrityFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tokenCalls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		require.NoError(t, r.ParseForm())
		require.Equal(t, oauthJWTBearerGrant, r.Form.Get("grant_type"))
		require.NotEmpty(t, r.Form.Get("assertion"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-bearer-token",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc(fmt.Sprintf("/v1/%s:decodeIntegrityToken", testPackageName), func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-bearer-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"tokenPayloadExternal": verdict})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	svc := NewAndroidIntegrityService(AndroidIntegrityConfig{
		PackageName:         testPackageName,
		ServiceAccountEmail: "svc@test.iam.gserviceaccount.com",
		ServiceAccountKey:   key,
		TokenURL:            server.URL + "/token",
		DecodeBaseURL:       server.URL,
		Cache:               &AccessTokenCache{},
		Now:                 func() time.Time { return now },
	})

	return &integrityFixture{svc: svc, tokenCalls: &tokenCalls, now: now, server: server}
}

func goodVerdict(now time.Time) map[string]any {
	return map[string]any{
		"requestDetails": map[string]any{
			"requestPackageName": testPackageName,
			"nonce":              "nonce-123",
			"timestampMillis":    fmt.Sprintf("%d", now.Add(-time.Minute).UnixMilli()),
		},
		"deviceIntegrity": map[string]any{
			"deviceRecognitionVerdict": []string{"MEETS_DEVICE_INTEGRITY", "MEETS_BASIC_INTEGRITY"},
		},
		"appIntegrity": map[string]any{
			"appRecognitionVerdict": "PLAY_RECOGNIZED",
			"packageName":           testPackageName,
		},
		"accountDetails": map[string]any{
			"appLicensingVerdict": "LICENSED",
		},
	}
}

func TestVerifyIntegrityTokenHappyPath(t *testing.T) {
	fx := newIntegrityFixture(t, goodVerdict(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)))

	outcome := fx.svc.VerifyIntegrityToken(context.Background(), "opaque-token", "nonce-123", "")
	require.True(t, outcome.Verified)
	// Device tier "device" contributes 10; app and account are clean.
	require.Equal(t, 10, outcome.RiskScore)
	require.Equal(t, models.TrustVerified, outcome.TrustOverride)
	require.Equal(t, 10, outcome.Verdicts["device_risk"])
	require.Equal(t, 0, outcome.Verdicts["app_risk"])
	require.Equal(t, 0, outcome.Verdicts["account_risk"])
}

func TestVerifyIntegrityTokenCachesBearerToken(t *testing.T) {
	fx := newIntegrityFixture(t, goodVerdict(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)))

	for i := 0; i < 3; i++ {
		outcome := fx.svc.VerifyIntegrityToken(context.Background(), "opaque-token", "", "")
		require.True(t, outcome.Verified)
	}
	require.Equal(t, 1, *fx.tokenCalls, "token exchange must happen once, then be served from cache")
}

func TestVerifyIntegrityTokenPackageMismatch(t *testing.T) {
	verdict := goodVerdict(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	verdict["requestDetails"].(map[string]any)["requestPackageName"] = "com.attacker.app"
	fx := newIntegrityFixture(t, verdict)

	outcome := fx.svc.VerifyIntegrityToken(context.Background(), "opaque-token", "", "")
	require.False(t, outcome.Verified)
	require.Equal(t, 100, outcome.RiskScore)
	require.Equal(t, models.TrustSuspicious, outcome.TrustOverride)
}

func TestVerifyIntegrityTokenNonceMismatch(t *testing.T) {
	fx := newIntegrityFixture(t, goodVerdict(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)))

	outcome := fx.svc.VerifyIntegrityToken(context.Background(), "opaque-token", "other-nonce", "")
	require.False(t, outcome.Verified)
	require.Equal(t, 100, outcome.RiskScore)
	require.Equal(t, models.TrustSuspicious, outcome.TrustOverride)
}

func TestVerifyIntegrityTokenStaleVerdict(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	verdict := goodVerdict(now)
	verdict["requestDetails"].(map[string]any)["timestampMillis"] =
		fmt.Sprintf("%d", now.Add(-11*time.Minute).UnixMilli())
	fx := newIntegrityFixture(t, verdict)

	outcome := fx.svc.VerifyIntegrityToken(context.Background(), "opaque-token", "nonce-123", "")
	require.False(t, outcome.Verified)
	require.Equal(t, 80, outcome.RiskScore)
	require.Equal(t, models.TrustSuspicious, outcome.TrustOverride)
}

func TestVerifyIntegrityTokenTierScoring(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		device   []string
		app      string
		account  string
		risk     int
		verified bool
		trust    models.TrustLevel
	}{
		{"strong device", []string{"MEETS_STRONG_INTEGRITY"}, "PLAY_RECOGNIZED", "LICENSED", 0, true, models.TrustVerified},
		{"basic only", []string{"MEETS_BASIC_INTEGRITY"}, "PLAY_RECOGNIZED", "LICENSED", 30, true, models.TrustTrusted},
		{"virtual", []string{"MEETS_VIRTUAL_INTEGRITY"}, "PLAY_RECOGNIZED", "LICENSED", 50, false, models.TrustUnknown},
		{"no verdicts", nil, "PLAY_RECOGNIZED", "LICENSED", 70, false, models.TrustSuspicious},
		{"strongest wins", []string{"MEETS_BASIC_INTEGRITY", "MEETS_STRONG_INTEGRITY"}, "PLAY_RECOGNIZED", "LICENSED", 0, true, models.TrustVerified},
		{"sideloaded licensed", []string{"MEETS_DEVICE_INTEGRITY"}, "UNEVALUATED", "UNLICENSED", 45, true, models.TrustUnknown},
		{"unrecognized version", []string{"MEETS_DEVICE_INTEGRITY"}, "UNRECOGNIZED_VERSION", "UNEVALUATED", 25, true, models.TrustTrusted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict := goodVerdict(now)
			verdict["deviceIntegrity"].(map[string]any)["deviceRecognitionVerdict"] = tc.device
			verdict["appIntegrity"].(map[string]any)["appRecognitionVerdict"] = tc.app
			verdict["accountDetails"].(map[string]any)["appLicensingVerdict"] = tc.account
			fx := newIntegrityFixture(t, verdict)

			outcome := fx.svc.VerifyIntegrityToken(context.Background(), "opaque-token", "nonce-123", "")
			require.Equal(t, tc.risk, outcome.RiskScore)
			require.Equal(t, tc.verified, outcome.Verified)
			require.Equal(t, tc.trust, outcome.TrustOverride)
		})
	}
}

func TestVerifyIntegrityTokenPackageOverride(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	verdict := goodVerdict(now)
	verdict["requestDetails"].(map[string]any)["requestPackageName"] = "com.poof.beta"
	fx := newIntegrityFixture(t, verdict)

	// Without an override the configured package wins and mismatches.
	outcome := fx.svc.VerifyIntegrityToken(context.Background(), "opaque-token", "nonce-123", "")
	require.False(t, outcome.Verified)
	require.Equal(t, 100, outcome.RiskScore)

	// A matching per-request override is honored.
	outcome = fx.svc.VerifyIntegrityToken(context.Background(), "opaque-token", "nonce-123", "com.poof.beta")
	require.True(t, outcome.Verified)

	// An override that itself mismatches still rejects.
	outcome = fx.svc.VerifyIntegrityToken(context.Background(), "opaque-token", "nonce-123", "com.poof.gamma")
	require.False(t, outcome.Verified)
	require.Equal(t, models.TrustSuspicious, outcome.TrustOverride)
}

// Any failure of the verdict service is a verification failure: fail
// closed, never silently pass.
func TestVerifyIntegrityTokenFailsClosed(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	svc := NewAndroidIntegrityService(AndroidIntegrityConfig{
		PackageName:         testPackageName,
		ServiceAccountEmail: "svc@test.iam.gserviceaccount.com",
		ServiceAccountKey:   key,
		TokenURL:            server.URL + "/token",
		DecodeBaseURL:       server.URL,
		Cache:               &AccessTokenCache{},
	})

	outcome := svc.VerifyIntegrityToken(context.Background(), "opaque-token", "", "")
	require.False(t, outcome.Verified)
	require.Equal(t, 100, outcome.RiskScore)
	require.Equal(t, models.TrustSuspicious, outcome.TrustOverride)
	require.NotEmpty(t, outcome.Message)
}

func TestAccessTokenCacheRefreshMargin(t *testing.T) {
	cache := &AccessTokenCache{}
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	cache.Put("tok", now.Add(time.Hour))
	require.Equal(t, "tok", cache.Get(now))
	// Within the 60s refresh margin the cached value is discarded.
	require.Equal(t, "", cache.Get(now.Add(time.Hour-30*time.Second)))
	require.Equal(t, "", cache.Get(now.Add(2*time.Hour)))
}

func safetyNetToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return strings.Join([]string{
		header,
		base64.RawURLEncoding.EncodeToString(payload),
		base64.RawURLEncoding.EncodeToString([]byte("sig")),
	}, ".")
}

func TestVerifySafetyNetToken(t *testing.T) {
	svc := NewAndroidIntegrityService(AndroidIntegrityConfig{PackageName: testPackageName})

	cases := []struct {
		name     string
		cts      bool
		basic    bool
		risk     int
		verified bool
	}{
		{"both flags", true, true, 15, true},
		{"cts only", true, false, 25, true},
		{"basic only", false, true, 30, true},
		{"both failed", false, false, 80, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token := safetyNetToken(t, map[string]any{
				"ctsProfileMatch": tc.cts,
				"basicIntegrity":  tc.basic,
			})
			outcome := svc.VerifySafetyNetToken(token)
			require.Equal(t, tc.verified, outcome.Verified)
			require.Equal(t, tc.risk, outcome.RiskScore)
			require.NotEmpty(t, outcome.Message, "SafetyNet responses always carry a message")
		})
	}
}

func TestVerifySafetyNetTokenMalformed(t *testing.T) {
	svc := NewAndroidIntegrityService(AndroidIntegrityConfig{PackageName: testPackageName})

	for _, token := range []string{"", "one.two", "not-a-jwt", "a.b.c.d"} {
		outcome := svc.VerifySafetyNetToken(token)
		require.False(t, outcome.Verified, "token %q", token)
		require.Equal(t, 80, outcome.RiskScore)
	}
}
