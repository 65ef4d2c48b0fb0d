package util

import (
	"net/url"
	"strings"
)

// sensitiveFragments mark query parameters whose values never reach the logs.
var sensitiveFragments = []string{"token", "secret", "password", "license", "api_key", "apikey", "api-key"}

// MaskSecret keeps a short prefix and suffix of s so that log lines can be
// correlated without exposing the value.
func MaskSecret(s string) string {
	s = strings.TrimSpace(s)
	switch n := len(s); {
	case n > 12:
		return s[:4] + "..." + s[n-4:]
	case n > 4:
		return s[:1] + "..." + s[n-1:]
	case n > 0:
		return "***"
	default:
		return ""
	}
}

// MaskEmail hides the local part of an address, keeping its first rune and
// the domain.
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return MaskSecret(email)
	}
	return email[:1] + "***" + email[at:]
}

// RedactQuery masks the values of sensitive parameters in a raw query string.
// Parameter order and untouched pairs are preserved byte for byte.
func RedactQuery(raw string) string {
	if raw == "" {
		return ""
	}
	pairs := strings.Split(raw, "&")
	changed := false
	for i, pair := range pairs {
		name, value, _ := strings.Cut(pair, "=")
		if !isSensitiveParam(unescape(name)) {
			continue
		}
		pairs[i] = name + "=" + url.QueryEscape(MaskSecret(unescape(value)))
		changed = true
	}
	if !changed {
		return raw
	}
	return strings.Join(pairs, "&")
}

func isSensitiveParam(name string) bool {
	name = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), "[]")
	if name == "" {
		return false
	}
	if name == "key" {
		return true
	}
	for _, fragment := range sensitiveFragments {
		if strings.Contains(name, fragment) {
			return true
		}
	}
	return false
}

func unescape(s string) string {
	if decoded, err := url.QueryUnescape(s); err == nil {
		return decoded
	}
	return s
}
