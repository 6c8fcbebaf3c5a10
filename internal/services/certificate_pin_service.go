package services

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/poofware/attestation-service/internal/models"
)

// Rotation warning severities surfaced in the X-Pin-Rotation-Warning header.
const (
	RotationWarningCritical = "critical"
	RotationWarningWarning  = "warning"
)

const (
	defaultGracePeriodDays       = 14
	defaultCriticalThresholdDays = 7
	defaultWarningThresholdDays  = 30
	defaultPinMaxAgeSeconds      = 5184000 // 60 days
)

// CertificatePinService computes the active pin set and renders the
// platform-specific payloads. Every method is a pure function of the
// supplied clock and the loaded config, so rotation arithmetic is
// deterministic under test.
type CertificatePinService struct {
	cfg models.PinConfig
}

func NewCertificatePinService(cfg models.PinConfig) *CertificatePinService {
	if cfg.GracePeriodDays <= 0 {
		cfg.GracePeriodDays = defaultGracePeriodDays
	}
	if cfg.CriticalThresholdDays <= 0 {
		cfg.CriticalThresholdDays = defaultCriticalThresholdDays
	}
	if cfg.WarningThresholdDays <= 0 {
		cfg.WarningThresholdDays = defaultWarningThresholdDays
	}
	if cfg.MaxAgeSeconds <= 0 {
		cfg.MaxAgeSeconds = defaultPinMaxAgeSeconds
	}
	return &CertificatePinService{cfg: cfg}
}

func (s *CertificatePinService) Config() models.PinConfig {
	return s.cfg
}

// ActivePins filters current pins to the unexpired ones, appends the
// upcoming set once now enters the grace window before the earliest
// current expiry, and sorts by ascending priority.
func (s *CertificatePinService) ActivePins(now time.Time) []models.CertificatePin {
	active := make([]models.CertificatePin, 0, len(s.cfg.CurrentPins)+len(s.cfg.UpcomingPins))
	for _, p := range s.cfg.CurrentPins {
		if p.Expires.After(now) {
			active = append(active, p)
		}
	}

	if earliest, ok := earliestExpiry(active); ok {
		graceStart := earliest.AddDate(0, 0, -s.cfg.GracePeriodDays)
		if !now.Before(graceStart) {
			for _, p := range s.cfg.UpcomingPins {
				if p.Expires.After(now) {
					active = append(active, p)
				}
			}
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority < active[j].Priority
	})
	return active
}

// ValidUntil is the earliest expiry among the active pins, zero when the
// active set is empty.
func (s *CertificatePinService) ValidUntil(now time.Time) time.Time {
	t, _ := earliestExpiry(s.ActivePins(now))
	return t
}

// RotationWarning reports the warning severity and days until the earliest
// active expiry. With no imminent expiry the configured next planned
// rotation date is consulted instead. Severity is "" when nothing is close.
func (s *CertificatePinService) RotationWarning(now time.Time) (severity string, daysLeft int) {
	deadline, ok := earliestExpiry(s.ActivePins(now))
	if !ok {
		if s.cfg.NextRotation.IsZero() {
			return "", 0
		}
		deadline = s.cfg.NextRotation
	}

	daysLeft = int(deadline.Sub(now).Hours() / 24)
	switch {
	case daysLeft <= s.cfg.CriticalThresholdDays:
		return RotationWarningCritical, daysLeft
	case daysLeft <= s.cfg.WarningThresholdDays:
		return RotationWarningWarning, daysLeft
	default:
		return "", daysLeft
	}
}

// RenderIOS is the flat hash array shape consumed by the TrustKit-style
// client configuration.
func (s *CertificatePinService) RenderIOS(now time.Time) map[string]any {
	pins := s.ActivePins(now)
	hashes := make([]string, 0, len(pins))
	for _, p := range pins {
		hashes = append(hashes, p.Hash)
	}
	return map[string]any{
		"version": s.cfg.Version,
		"pins":    hashes,
	}
}

// RenderAndroid is the network-security-config style pin-set document with
// an explicit expiration attribute.
func (s *CertificatePinService) RenderAndroid(now time.Time) map[string]any {
	pins := s.ActivePins(now)
	set := make([]map[string]string, 0, len(pins))
	for _, p := range pins {
		set = append(set, map[string]string{
			"digest": "SHA-256",
			"hash":   p.Hash,
		})
	}
	doc := map[string]any{
		"version": s.cfg.Version,
		"pin_set": set,
	}
	if until := s.ValidUntil(now); !until.IsZero() {
		doc["expiration"] = until.Format("2006-01-02")
	}
	return doc
}

// RenderWebHeader is the Public-Key-Pins style directive string.
func (s *CertificatePinService) RenderWebHeader(now time.Time) string {
	pins := s.ActivePins(now)
	parts := make([]string, 0, len(pins)+1)
	for _, p := range pins {
		parts = append(parts, fmt.Sprintf("pin-sha256=%q", p.Hash))
	}
	parts = append(parts, fmt.Sprintf("max-age=%d", s.cfg.MaxAgeSeconds))
	return strings.Join(parts, "; ")
}

// ETag is a weak content hash over the active set. FNV is enough here:
// the tag only has to change when the payload does, it carries no
// integrity guarantee.
func (s *CertificatePinService) ETag(now time.Time) string {
	pins := s.ActivePins(now)
	h := fnv.New64a()
	enc, _ := json.Marshal(pins)
	_, _ = h.Write(enc)
	fmt.Fprintf(h, "v%d", s.cfg.Version)
	return fmt.Sprintf(`W/"%x"`, h.Sum64())
}

func earliestExpiry(pins []models.CertificatePin) (time.Time, bool) {
	var earliest time.Time
	for _, p := range pins {
		if earliest.IsZero() || p.Expires.Before(earliest) {
			earliest = p.Expires
		}
	}
	return earliest, !earliest.IsZero()
}
