package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Supported JWT signing algorithms.
const (
	AlgorithmRS256 = "RS256"
	AlgorithmES256 = "ES256"
	AlgorithmEdDSA = "EdDSA"
)

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
	PublicJWK() JWK
}

type keySigner struct {
	kid    string
	method jwt.SigningMethod
	key    crypto.Signer
	jwk    JWK
}

// NewSigner parses a PEM private key and returns a signer for alg. Ed25519
// and P-256 keys must be PKCS8; RSA keys may be PKCS1 or PKCS8.
func NewSigner(alg, kid string, pemKey []byte) (Signer, error) {
	if kid == "" {
		return nil, errors.New("jwtx: key id is required")
	}
	key, err := parsePrivateKey(pemKey)
	if err != nil {
		return nil, err
	}

	s := &keySigner{kid: kid, key: key}
	switch alg {
	case AlgorithmEdDSA:
		pub, ok := key.Public().(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("jwtx: %s requires an Ed25519 key", alg)
		}
		s.method = jwt.SigningMethodEdDSA
		s.jwk = NewEd25519JWK(kid, alg, pub)

	case AlgorithmES256:
		pub, ok := key.Public().(*ecdsa.PublicKey)
		if !ok || pub.Curve != elliptic.P256() {
			return nil, fmt.Errorf("jwtx: %s requires a P-256 key", alg)
		}
		s.method = jwt.SigningMethodES256
		s.jwk = NewES256JWK(kid, alg, pub)

	case AlgorithmRS256:
		pub, ok := key.Public().(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("jwtx: %s requires an RSA key", alg)
		}
		if pub.N.BitLen() < 2048 {
			return nil, errors.New("jwtx: RSA key must be at least 2048 bits")
		}
		s.method = jwt.SigningMethodRS256
		s.jwk = NewRSAJWK(kid, alg, pub)

	default:
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q (supported: RS256, ES256, EdDSA)", alg)
	}
	return s, nil
}

func (s *keySigner) Alg() string    { return s.method.Alg() }
func (s *keySigner) KID() string    { return s.kid }
func (s *keySigner) PublicJWK() JWK { return s.jwk }

// Sign turns claims into a compact JWS with the kid header set.
func (s *keySigner) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

func parsePrivateKey(pemKey []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("jwtx: invalid PEM private key")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("jwtx: parse PKCS1: %w", err)
		}
		return k, nil
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("jwtx: parse PKCS8: %w", err)
		}
		signer, ok := k.(crypto.Signer)
		if !ok {
			return nil, errors.New("jwtx: PKCS8 key cannot sign")
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("jwtx: unsupported PEM type %q", block.Type)
	}
}
