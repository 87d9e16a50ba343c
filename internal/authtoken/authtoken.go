// Package authtoken mints and verifies the signed access tokens the
// Session cache (spec C12) stores and the JMAP/IMAP authentication layer
// would validate on every request. Signing uses the HMAC secret seeded
// into "oauth.key" during boot (spec C5 stage 8); each token carries a
// unique id (google/uuid) as its JWT "jti" claim so a single token can be
// revoked by id without invalidating every session for its subject.
package authtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalid wraps any verification failure: expired, malformed, or
// signed with an unrecognized key.
var ErrInvalid = errors.New("authtoken: invalid token")

// claims is the minimal JMAP-session shape: subject identity plus a
// revocable id.
type claims struct {
	jwt.RegisteredClaims
}

// Mint signs a new access token for subject, valid for ttl, using secret
// (the raw "oauth.key" value). Returns the signed token and the jti the
// caller should use as the Session cache key.
func Mint(secret []byte, subject string, ttl time.Duration) (token string, jti string, err error) {
	jti = uuid.NewString()
	now := time.Now()
	c := claims{jwt.RegisteredClaims{
		Subject:   subject,
		ID:        jti,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
	if err != nil {
		return "", "", fmt.Errorf("authtoken: sign: %w", err)
	}
	return signed, jti, nil
}

// Verify checks token's signature and expiry against secret and returns
// its subject and jti on success.
func Verify(secret []byte, token string) (subject string, jti string, err error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", "", ErrInvalid
	}
	c, ok := parsed.Claims.(*claims)
	if !ok {
		return "", "", ErrInvalid
	}
	return c.Subject, c.ID, nil
}
