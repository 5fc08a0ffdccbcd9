package devices

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mssola/useragent"
	"github.com/zenithcms/sentinel/params"
)

// Fingerprint derives a stable device id from the user agent and source ip.
// The same (userAgent, ip) pair always maps to the same id; unrelated pairs
// collide only with sha256 probability.
func Fingerprint(userAgent, ip string) string {
	sum := sha256.Sum256([]byte(userAgent + "|" + ip))
	return hex.EncodeToString(sum[:])[:params.DeviceIDLength]
}

// DisplayName renders a human-readable device label from a user agent
// string, e.g. "Chrome on Linux".
func DisplayName(userAgentString string) string {
	if userAgentString == "" {
		return "Unknown Device"
	}
	ua := useragent.New(userAgentString)
	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}
	os := ua.OS()
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + os)
}

// DeviceType classifies a user agent as mobile, bot or desktop.
func DeviceType(userAgentString string) string {
	if userAgentString == "" {
		return "unknown"
	}
	ua := useragent.New(userAgentString)
	switch {
	case ua.Bot():
		return "bot"
	case ua.Mobile():
		return "mobile"
	default:
		return "desktop"
	}
}
