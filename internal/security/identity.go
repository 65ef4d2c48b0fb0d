package security

import (
	"context"
	"strings"
)

// Identity is the verified subject of a bearer credential.
type Identity struct {
	SubjectID uint64
	Email     string
}

// Verifier resolves a bearer credential to an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// BearerToken extracts the credential from an Authorization header value.
// The scheme is matched case-insensitively.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
