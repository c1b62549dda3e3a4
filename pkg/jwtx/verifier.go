package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrUnknownKID  = errors.New("jwtx: unknown kid")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")
	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrAudience    = errors.New("jwtx: audience mismatch")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
	ErrWrongUse    = errors.New("jwtx: wrong token use")
)

// VerifyOptions fixes the expectations every token is checked against.
type VerifyOptions struct {
	// Algorithm is the only accepted alg header.
	Algorithm string

	Issuer   string
	Audience []string

	// Leeway allows small clock skew when validating exp/nbf.
	Leeway time.Duration

	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

// Verifier validates signed tokens against a KeySet. Verification is pure
// computation: no I/O happens here.
type Verifier struct {
	keys *KeySet
	opts VerifyOptions
}

// NewVerifier creates a verifier over keys.
func NewVerifier(keys *KeySet, opts VerifyOptions) *Verifier {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Verifier{keys: keys, opts: opts}
}

// Verify checks signature, algorithm, issuer, audience, expiry and token
// use, returning the claims only if all pass. The returned error always
// wraps one of the package sentinels so callers can log the cause.
func (v *Verifier) Verify(tokenStr string, use TokenUse) (Claims, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{v.opts.Algorithm}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: missing kid", ErrUnknownKID)
		}
		pub, err := v.keys.Get(kid)
		if err != nil {
			return nil, fmt.Errorf("%w %q", ErrUnknownKID, kid)
		}
		return pub, nil
	})
	if err != nil {
		return Claims{}, classify(err)
	}

	if err := claims.ValidateIssuer(v.opts.Issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateAudience(v.opts.Audience); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateExpiry(v.opts.Clock.Now(), v.opts.Leeway); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateUse(use); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKID):
		return err
	// A disallowed alg header also surfaces as an invalid signature.
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSig, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
