package controllers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/poofware/attestation-service/internal/dtos"
	"github.com/poofware/attestation-service/internal/services"
	"github.com/poofware/attestation-service/internal/utils"
)

// legacyPinsMediaType asks for the reduced v1 shape (a bare hash array).
const legacyPinsMediaType = "application/vnd.poof.pins.v1"

// Pin rotation is planned and infrequent, so clients may serve stale pins
// for a long while before revalidating.
const pinsCacheControl = "public, max-age=3600, stale-while-revalidate=86400"

type CertificatePinsController struct {
	pinService *services.CertificatePinService
	now        func() time.Time
}

func NewCertificatePinsController(pinService *services.CertificatePinService) *CertificatePinsController {
	return &CertificatePinsController{
		pinService: pinService,
		now:        time.Now,
	}
}

// GetPins handles GET /certificate-pins.
func (c *CertificatePinsController) GetPins(w http.ResponseWriter, r *http.Request) {
	now := c.now()
	platform := utils.GetClientPlatform(r)

	etag := c.pinService.ETag(now)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", pinsCacheControl)
	w.Header().Set("X-Platform-Detected", platform.String())

	if until := c.pinService.ValidUntil(now); !until.IsZero() {
		w.Header().Set("X-Pins-Valid-Until", until.UTC().Format(time.RFC3339))
	}
	if severity, days := c.pinService.RotationWarning(now); severity != "" {
		w.Header().Set("X-Pin-Rotation-Warning", severity)
		w.Header().Set("X-Pin-Days-Until-Expiry", fmt.Sprintf("%d", days))
	}

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if c.wantsLegacyShape(r) {
		ios := c.pinService.RenderIOS(now)
		hashes, _ := ios["pins"].([]string)
		utils.RespondWithJSON(w, http.StatusOK, dtos.LegacyPinsResponse{Pins: hashes})
		return
	}

	cfg := c.pinService.Config()
	resp := dtos.PinsResponse{
		Version:  cfg.Version,
		Platform: platform.String(),
	}
	if until := c.pinService.ValidUntil(now); !until.IsZero() {
		resp.ValidUntil = until.UTC().Format(time.RFC3339)
	}

	switch platform {
	case utils.PlatformIOS:
		resp.IOS = c.pinService.RenderIOS(now)
	case utils.PlatformAndroid:
		resp.Android = c.pinService.RenderAndroid(now)
	case utils.PlatformWeb:
		resp.WebHeader = c.pinService.RenderWebHeader(now)
	default:
		// Unknown callers get every rendering and pick their own.
		resp.IOS = c.pinService.RenderIOS(now)
		resp.Android = c.pinService.RenderAndroid(now)
		resp.WebHeader = c.pinService.RenderWebHeader(now)
	}

	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// wantsLegacyShape is true for the v1 vendor media type and for app
// versions below the configured minimum for the full document.
func (c *CertificatePinsController) wantsLegacyShape(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), legacyPinsMediaType) {
		return true
	}
	minVersion := c.pinService.Config().MinimumAppVersion
	appVersion := r.Header.Get("X-App-Version")
	if minVersion != "" && appVersion != "" {
		return utils.VersionLess(appVersion, minVersion)
	}
	return false
}
