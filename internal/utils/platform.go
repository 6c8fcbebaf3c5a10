package utils

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ------------------------------------------------------------------------
// PlatformType enumerates how the client is connecting.
// ------------------------------------------------------------------------
type PlatformType int

const (
	PlatformUnknown PlatformType = iota
	PlatformWeb
	PlatformAndroid
	PlatformIOS
)

func (p PlatformType) String() string {
	switch p {
	case PlatformWeb:
		return "web"
	case PlatformAndroid:
		return "android"
	case PlatformIOS:
		return "ios"
	default:
		return "unknown"
	}
}

// ParsePlatform converts strings ("web", "android", "ios") to the enum.
func ParsePlatform(s string) (PlatformType, error) {
	switch s {
	case "web":
		return PlatformWeb, nil
	case "android":
		return PlatformAndroid, nil
	case "ios":
		return PlatformIOS, nil
	default:
		return PlatformUnknown, fmt.Errorf("invalid platform: %q", s)
	}
}

// GetClientPlatform resolves the caller's platform. Explicit headers win
// (X-Platform, then X-Client-Platform); otherwise the User-Agent string is
// inspected. Returns PlatformUnknown when nothing matches.
func GetClientPlatform(r *http.Request) PlatformType {
	raw := r.Header.Get("X-Platform")
	if raw == "" {
		raw = r.Header.Get("X-Client-Platform")
	}
	if raw != "" {
		if p, err := ParsePlatform(strings.ToLower(raw)); err == nil {
			return p
		}
	}

	ua := strings.ToLower(r.Header.Get("User-Agent"))
	switch {
	case ua == "":
		return PlatformUnknown
	case strings.Contains(ua, "android"), strings.Contains(ua, "okhttp"):
		return PlatformAndroid
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"),
		strings.Contains(ua, "darwin"), strings.Contains(ua, "cfnetwork"):
		return PlatformIOS
	case strings.Contains(ua, "mozilla"), strings.Contains(ua, "chrome"),
		strings.Contains(ua, "safari"), strings.Contains(ua, "firefox"),
		strings.Contains(ua, "edg"):
		return PlatformWeb
	default:
		return PlatformUnknown
	}
}

// DetectIP extracts the best IP address from typical proxy headers or RemoteAddr.
func DetectIP(r *http.Request) string {
	forwardedFor := r.Header.Get("X-Forwarded-For")
	if forwardedFor != "" {
		ips := strings.Split(forwardedFor, ",")
		for _, ip := range ips {
			cleanIP := strings.TrimSpace(ip)
			if isValidIP(cleanIP) {
				return cleanIP
			}
		}
	}

	realIP := r.Header.Get("X-Real-IP")
	if realIP != "" && isValidIP(realIP) {
		return realIP
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && isValidIP(ip) {
		return ip
	}
	return ""
}

func isValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
