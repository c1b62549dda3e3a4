package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token lifetimes. Services override these from config.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenUse distinguishes the two halves of a token pair. A refresh token
// presented as a bearer token must never authenticate a request.
type TokenUse string

const (
	TokenUseAccess  TokenUse = "access"
	TokenUseRefresh TokenUse = "refresh"
)

// Claims carry the identity of a device-bound principal inside one tenant.
type Claims struct {
	jwt.RegisteredClaims

	// Tenant the principal belongs to.
	TenantID string `json:"tid,omitempty"`

	// Role at the time the token was minted.
	Role string `json:"role,omitempty"`

	// Device the token is bound to.
	DeviceID string `json:"did,omitempty"`

	TokenUse TokenUse `json:"typ,omitempty"`
}

// Identity is the subject half of a token: who, where, as what, on which device.
type Identity struct {
	PrincipalID string
	TenantID    string
	Role        string
	DeviceID    string
}

// NewClaims builds claims for one token of a pair.
func NewClaims(id Identity, use TokenUse, issuer string, audience []string, now time.Time, ttl time.Duration) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.PrincipalID,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		TenantID: id.TenantID,
		Role:     id.Role,
		DeviceID: id.DeviceID,
		TokenUse: use,
	}
}

// Identity returns the subject fields of the claims.
func (c *Claims) Identity() Identity {
	return Identity{
		PrincipalID: c.Subject,
		TenantID:    c.TenantID,
		Role:        c.Role,
		DeviceID:    c.DeviceID,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim. Two
// tokens minted in the same second for the same device must still differ.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}

// ValidateExpiry checks exp and nbf against now, allowing leeway for clock skew.
func (c *Claims) ValidateExpiry(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt == nil {
		return ErrExpired
	}
	if now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}
	return nil
}

// ValidateUse checks the typ claim.
func (c *Claims) ValidateUse(want TokenUse) error {
	if c.TokenUse != want {
		return ErrWrongUse
	}
	return nil
}
