// Package auth verifies the HS256 bearer tokens issued by Supabase Auth.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"arrowhead/api/internal/clock"
)

// Claims is the subset of the Supabase session payload the API relies on.
type Claims struct {
	Sub   string `json:"sub"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	Exp   int64  `json:"exp,omitempty"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type tokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Verifier checks signature and expiry against a shared secret. Only the
// signature and exp are enforced; iss, aud, nbf and iat are ignored.
type Verifier struct {
	secret []byte
	clock  clock.Clock
	parser *jwt.Parser
}

func NewVerifier(secret string, clk clock.Clock) *Verifier {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Verifier{
		secret: []byte(secret),
		clock:  clk,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Verify is a convenience wrapper using the real clock.
func Verify(secret []byte, token string) (Claims, error) {
	return NewVerifier(string(secret), nil).Verify(token)
}

func (v *Verifier) Verify(token string) (Claims, error) {
	var parsed tokenClaims
	_, err := v.parser.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := Claims{
		Sub:   parsed.Subject,
		Email: parsed.Email,
		Role:  parsed.Role,
	}
	if parsed.ExpiresAt != nil {
		claims.Exp = parsed.ExpiresAt.Unix()
	}
	// exp equal to the current second is still accepted.
	if claims.Exp != 0 && claims.Exp < v.clock.Now().Unix() {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

// Sign mints an HS256 token. The API never issues tokens to callers; this
// backs tests and the local dev-token command.
func Sign(secret []byte, claims Claims) (string, error) {
	payload := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: claims.Sub},
		Email:            claims.Email,
		Role:             claims.Role,
	}
	if claims.Exp != 0 {
		payload.ExpiresAt = jwt.NewNumericDate(time.Unix(claims.Exp, 0))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
