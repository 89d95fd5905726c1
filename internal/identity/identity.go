// Package identity models the caller-supplied user identity consumed by the
// sync layer. Identity issuance lives in an external auth service; this
// package only verifies tokens it is handed and fills in display defaults.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the minimal user tuple every synced record carries.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

var (
	ErrInvalidToken = errors.New("invalid identity token")
	ErrNoUserID     = errors.New("identity has no user id")
)

// Normalize fills display defaults: a blank display name becomes the user id
// and a missing avatar gets a deterministic placeholder so a user renders the
// same everywhere without a server-side avatar registry.
func (id Identity) Normalize() (Identity, error) {
	id.UserID = strings.TrimSpace(id.UserID)
	if id.UserID == "" {
		return Identity{}, ErrNoUserID
	}
	if strings.TrimSpace(id.DisplayName) == "" {
		id.DisplayName = id.UserID
	}
	if strings.TrimSpace(id.AvatarURL) == "" {
		id.AvatarURL = PlaceholderAvatarURL(id.UserID)
	}
	return id, nil
}

// PlaceholderAvatarURL derives a stable avatar URL from the user id alone.
func PlaceholderAvatarURL(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return "https://api.dicebear.com/7.x/identicon/svg?seed=" + hex.EncodeToString(sum[:8])
}

// Verifier checks externally issued identity tokens. Tokens are HMAC-signed
// JWTs with sub/name/avatar claims.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates the token and returns the normalized identity.
func (v *Verifier) Verify(token string) (Identity, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	id := Identity{
		UserID:      stringClaim(claims, "sub"),
		DisplayName: stringClaim(claims, "name"),
		AvatarURL:   stringClaim(claims, "avatar"),
	}
	normalized, err := id.Normalize()
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	return normalized, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	value, _ := claims[key].(string)
	return value
}
