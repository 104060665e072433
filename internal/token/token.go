// Package token issues and verifies the role-bound capability tokens a
// peer presents during the relay handshake. A token is only a capability
// hint: callers must still cross-check the live pairing record, so a
// deleted pairing invalidates even a structurally valid token.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/walletabi/relaygo/internal/transport"
)

var (
	ErrInvalid         = errors.New("token: invalid token")
	ErrPairingMismatch = errors.New("token: pairing_id mismatch")
	ErrRoleMismatch    = errors.New("token: role mismatch")
)

// Claims binds a token to one pairing, one role, and an expiry.
type Claims struct {
	PairingID string         `json:"pairing_id"`
	Role      transport.Role `json:"role"`
	jwt.RegisteredClaims
}

// Sign creates an HS256 token for the given pairing and role.
func Sign(secret []byte, pairingID string, role transport.Role, expiresAt time.Time) (string, error) {
	claims := Claims{
		PairingID: pairingID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Verify parses tokenString, checks its signature and expiry, and matches
// it against the expected pairing and role.
func Verify(secret []byte, tokenString, pairingID string, role transport.Role) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}

	if claims.PairingID != pairingID {
		return nil, ErrPairingMismatch
	}
	if claims.Role != role {
		return nil, ErrRoleMismatch
	}

	return claims, nil
}
