// Package threeds normalizes and relays issuer 3-D Secure challenge
// documents. Gateways are inconsistent about whether the challenge HTML
// arrives literal or base64-encoded, so normalization is deliberately
// tolerant: on any decode ambiguity the raw payload wins.
package threeds

import (
	"encoding/base64"
	"regexp"
	"strings"
)

var base64Charset = regexp.MustCompile(`^[A-Za-z0-9+/=\r\n]+$`)

// NormalizePayload resolves a gateway challenge payload into renderable HTML.
// If the payload matches the base64 character class and does not already
// contain a form tag, a decode is attempted; the decoded text is used only
// when it contains a form tag. Every other case returns the raw payload
// unmodified. The boolean reports whether a decode was applied.
func NormalizePayload(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw, false
	}
	if containsFormTag(trimmed) {
		return raw, false
	}
	if !base64Charset.MatchString(trimmed) {
		return raw, false
	}

	compact := strings.NewReplacer("\r", "", "\n", "").Replace(trimmed)
	decoded, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(compact)
	}
	if err != nil {
		return raw, false
	}
	if !containsFormTag(string(decoded)) {
		return raw, false
	}
	return string(decoded), true
}

// ContainsForm reports whether the payload carries a form tag the relay
// document can submit. Payloads without one are complete documents on their
// own, such as hosted-URL redirect pages.
func ContainsForm(payload string) bool {
	return containsFormTag(payload)
}

func containsFormTag(s string) bool {
	return strings.Contains(strings.ToLower(s), "<form")
}
