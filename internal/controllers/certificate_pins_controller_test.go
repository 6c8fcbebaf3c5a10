package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/poofware/attestation-service/internal/dtos"
	"github.com/poofware/attestation-service/internal/models"
	"github.com/poofware/attestation-service/internal/services"
)

var pinTestNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newPinsController(cfg models.PinConfig) *CertificatePinsController {
	ctrl := NewCertificatePinsController(services.NewCertificatePinService(cfg))
	ctrl.now = func() time.Time { return pinTestNow }
	return ctrl
}

func pinsTestConfig() models.PinConfig {
	return models.PinConfig{
		Version: 2,
		CurrentPins: []models.CertificatePin{
			{Hash: "primary-pin", Type: models.PinTypeLeaf, Expires: pinTestNow.AddDate(0, 0, 90), Priority: 1},
			{Hash: "backup-pin", Type: models.PinTypeIntermediate, Expires: pinTestNow.AddDate(0, 0, 180), Priority: 2},
		},
		GracePeriodDays:       14,
		CriticalThresholdDays: 7,
		WarningThresholdDays:  30,
		MaxAgeSeconds:         5184000,
		MinimumAppVersion:     "3.0.0",
	}
}

func getPins(ctrl *CertificatePinsController, mutate func(r *http.Request)) *httptest.ResponseRecorder {
	r := httptest.NewRequest("GET", "/certificate-pins", nil)
	if mutate != nil {
		mutate(r)
	}
	w := httptest.NewRecorder()
	ctrl.GetPins(w, r)
	return w
}

func TestGetPinsBrowserUserAgent(t *testing.T) {
	ctrl := newPinsController(pinsTestConfig())

	w := getPins(ctrl, func(r *http.Request) {
		r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Chrome/126.0 Safari/537.36")
	})

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "web", w.Header().Get("X-Platform-Detected"))

	var resp dtos.PinsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, "web", resp.Platform)
	require.Contains(t, resp.WebHeader, `pin-sha256="primary-pin"`)
	require.Contains(t, resp.WebHeader, "max-age=5184000")
	require.Nil(t, resp.IOS)
	require.Nil(t, resp.Android)
}

func TestGetPinsPlatformHeaders(t *testing.T) {
	ctrl := newPinsController(pinsTestConfig())

	w := getPins(ctrl, func(r *http.Request) { r.Header.Set("X-Platform", "ios") })
	var resp dtos.PinsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.IOS)
	require.Nil(t, resp.Android)

	w = getPins(ctrl, func(r *http.Request) { r.Header.Set("X-Client-Platform", "android") })
	resp = dtos.PinsResponse{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Android)
	require.Nil(t, resp.IOS)
}

func TestGetPinsCacheHeaders(t *testing.T) {
	ctrl := newPinsController(pinsTestConfig())

	w := getPins(ctrl, nil)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	require.Contains(t, w.Header().Get("Cache-Control"), "stale-while-revalidate")
	require.NotEmpty(t, w.Header().Get("X-Pins-Valid-Until"))

	// Conditional request with the same tag revalidates for free.
	w = getPins(ctrl, func(r *http.Request) { r.Header.Set("If-None-Match", etag) })
	require.Equal(t, http.StatusNotModified, w.Code)
	require.Zero(t, w.Body.Len())
}

func TestGetPinsRotationWarningHeaders(t *testing.T) {
	cfg := pinsTestConfig()
	cfg.CurrentPins[0].Expires = pinTestNow.AddDate(0, 0, 5) // imminent
	ctrl := newPinsController(cfg)

	w := getPins(ctrl, nil)
	require.Equal(t, "critical", w.Header().Get("X-Pin-Rotation-Warning"))
	require.Equal(t, "5", w.Header().Get("X-Pin-Days-Until-Expiry"))

	// Far from any expiry: no warning headers at all.
	w = getPins(newPinsController(pinsTestConfig()), nil)
	require.Empty(t, w.Header().Get("X-Pin-Rotation-Warning"))
	require.Empty(t, w.Header().Get("X-Pin-Days-Until-Expiry"))
}

func TestGetPinsLegacyAcceptHeader(t *testing.T) {
	ctrl := newPinsController(pinsTestConfig())

	w := getPins(ctrl, func(r *http.Request) {
		r.Header.Set("Accept", "application/vnd.poof.pins.v1")
	})

	var resp dtos.LegacyPinsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, []string{"primary-pin", "backup-pin"}, resp.Pins)
}

func TestGetPinsOldAppVersionGetsLegacyShape(t *testing.T) {
	ctrl := newPinsController(pinsTestConfig())

	w := getPins(ctrl, func(r *http.Request) {
		r.Header.Set("X-App-Version", "2.9.9")
	})
	var legacy dtos.LegacyPinsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&legacy))
	require.Len(t, legacy.Pins, 2)

	// At or above the minimum version the full document comes back.
	w = getPins(ctrl, func(r *http.Request) {
		r.Header.Set("X-App-Version", "3.0.0")
		r.Header.Set("X-Platform", "ios")
	})
	var full dtos.PinsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&full))
	require.Equal(t, 2, full.Version)
	require.NotNil(t, full.IOS)
}
