package security

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/router-for-me/chatgate/internal/clock"
)

const tokenIssuer = "chatgate"

// Token verification errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// SessionClaims is the payload of a user bearer token. The user ID travels
// in the standard subject claim.
type SessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserID decodes the subject claim; zero means absent or malformed.
func (c *SessionClaims) UserID() uint64 {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// GenerateToken signs an HS256 token for userID valid from issuedAt for ttl.
func GenerateToken(secret string, userID uint64, email string, issuedAt time.Time, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("security: signing secret is empty")
	}
	if userID == 0 {
		return "", errors.New("security: user id is required")
	}
	issuedAt = issuedAt.UTC().Truncate(time.Second)
	claims := SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken checks signature, issuer and expiry as of now.
func ParseToken(secret, raw string, now time.Time) (*SessionClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	claims := &SessionClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil, claims.UserID() == 0:
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// JWTVerifier is the Verifier for tokens minted by GenerateToken.
type JWTVerifier struct {
	secret string
	clock  clock.Clock
}

// NewJWTVerifier verifies tokens signed with secret, judging expiry by clk.
func NewJWTVerifier(secret string, clk clock.Clock) *JWTVerifier {
	return &JWTVerifier{secret: secret, clock: clock.OrSystem(clk)}
}

// Verify implements Verifier. Expired tokens fail with ErrExpiredToken and
// every other rejection with ErrInvalidToken.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if token = strings.TrimSpace(token); token == "" {
		return Identity{}, ErrInvalidToken
	}
	claims, err := ParseToken(v.secret, token, v.clock.Now())
	if err != nil {
		return Identity{}, err
	}
	return Identity{SubjectID: claims.UserID(), Email: claims.Email}, nil
}
