package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aussiebroadwan/timekeep/pkg/cryptox"
)

// KeyManagerOptions configures the signing key and verification rules.
type KeyManagerOptions struct {
	// Algorithm is one of RS256, ES256, EdDSA.
	Algorithm string

	// KeyID is published as the kid header. Generated when empty.
	KeyID string

	// PrivateKeyPEM is the shared signing key. When nil an ephemeral key is
	// generated, which only works for a single instance: tokens minted
	// before a restart stop verifying.
	PrivateKeyPEM []byte

	// RSABits sizes generated RS256 keys. Defaults to 3072.
	RSABits int

	Issuer   string
	Audience []string
	Leeway   time.Duration
	Clock    clockwork.Clock
}

// KeyManager wires a signer, the public KeySet and a Verifier together.
type KeyManager struct {
	signer    Signer
	keys      *KeySet
	verifier  *Verifier
	issuer    string
	audience  []string
	ephemeral bool
}

// NewKeyManager loads (or generates) the signing key and prepares verification.
func NewKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	if opts.Issuer == "" {
		return nil, errors.New("jwtx: issuer is required")
	}
	if len(opts.Audience) == 0 {
		return nil, errors.New("jwtx: audience is required")
	}

	kid := opts.KeyID
	if kid == "" {
		token, err := cryptox.GenerateToken(cryptox.TokenSize128)
		if err != nil {
			return nil, fmt.Errorf("jwtx: generate key id: %w", err)
		}
		kid = "timekeep-" + token
	}

	pemKey := opts.PrivateKeyPEM
	ephemeral := pemKey == nil
	if ephemeral {
		var err error
		if pemKey, err = generateKey(opts.Algorithm, opts.RSABits); err != nil {
			return nil, err
		}
	}

	signer, err := NewSigner(opts.Algorithm, kid, pemKey)
	if err != nil {
		return nil, err
	}

	keys := NewKeySet()
	if err := keys.AddSigner(signer); err != nil {
		return nil, fmt.Errorf("jwtx: add signer to keyset: %w", err)
	}

	return &KeyManager{
		signer: signer,
		keys:   keys,
		verifier: NewVerifier(keys, VerifyOptions{
			Algorithm: opts.Algorithm,
			Issuer:    opts.Issuer,
			Audience:  opts.Audience,
			Leeway:    opts.Leeway,
			Clock:     opts.Clock,
		}),
		issuer:    opts.Issuer,
		audience:  opts.Audience,
		ephemeral: ephemeral,
	}, nil
}

func generateKey(alg string, rsaBits int) ([]byte, error) {
	var (
		b   []byte
		err error
	)
	switch alg {
	case AlgorithmEdDSA:
		b, err = cryptox.GenerateEd25519Key()
	case AlgorithmES256:
		b, err = cryptox.GenerateES256Key()
	case AlgorithmRS256:
		if rsaBits == 0 {
			rsaBits = 3072
		}
		b, err = cryptox.GenerateRSAKey(rsaBits)
	default:
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q (supported: RS256, ES256, EdDSA)", alg)
	}
	if err != nil {
		return nil, fmt.Errorf("jwtx: generate %s key: %w", alg, err)
	}
	return b, nil
}

// Sign signs claims with the active key.
func (km *KeyManager) Sign(c Claims) (string, error) { return km.signer.Sign(c) }

// Verify checks a token of the given use.
func (km *KeyManager) Verify(token string, use TokenUse) (Claims, error) {
	return km.verifier.Verify(token, use)
}

// NewClaims builds claims stamped with this manager's issuer and audience.
func (km *KeyManager) NewClaims(id Identity, use TokenUse, now time.Time, ttl time.Duration) Claims {
	return NewClaims(id, use, km.issuer, km.audience, now, ttl)
}

// JWKS returns the public keys for publishing.
func (km *KeyManager) JWKS() JWKS { return km.keys.PublicJWKS() }

// Algorithm returns the signing algorithm being used.
func (km *KeyManager) Algorithm() string { return km.signer.Alg() }

// KeyID returns the kid of the active key.
func (km *KeyManager) KeyID() string { return km.signer.KID() }

// Ephemeral reports whether the key was generated in memory.
func (km *KeyManager) Ephemeral() bool { return km.ephemeral }

// IsReady reports whether verification keys are loaded.
func (km *KeyManager) IsReady() bool { return km.keys.IsReady() }
