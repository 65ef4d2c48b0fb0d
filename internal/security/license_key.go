package security

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	licensePrefix = "CG"
	licenseGroups = 4
	licenseGroup  = 4
	// No 0/O or 1/I: keys get read aloud and retyped.
	licenseAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// GenerateLicenseKey returns a fresh CG-XXXX-XXXX-XXXX-XXXX key.
func GenerateLicenseKey() (string, error) {
	var b strings.Builder
	b.WriteString(licensePrefix)
	random := make([]byte, licenseGroups*licenseGroup)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("security: license key entropy: %w", err)
	}
	for i, r := range random {
		if i%licenseGroup == 0 {
			b.WriteByte('-')
		}
		// 256 is a multiple of the 32-symbol alphabet, so this is unbiased.
		b.WriteByte(licenseAlphabet[int(r)%len(licenseAlphabet)])
	}
	return b.String(), nil
}

// NormalizeLicenseKey canonicalises user input before lookup.
func NormalizeLicenseKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
