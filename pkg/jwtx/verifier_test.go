package jwtx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/timekeep/pkg/cryptox"
	"github.com/aussiebroadwan/timekeep/pkg/jwtx"
)

var testIdentity = jwtx.Identity{PrincipalID: "p1", TenantID: "t1", Role: "member", DeviceID: "d1"}

func newSigner(t *testing.T, alg, kid string) jwtx.Signer {
	t.Helper()

	var (
		pemKey []byte
		err    error
	)
	switch alg {
	case jwtx.AlgorithmEdDSA:
		pemKey, err = cryptox.GenerateEd25519Key()
	case jwtx.AlgorithmES256:
		pemKey, err = cryptox.GenerateES256Key()
	case jwtx.AlgorithmRS256:
		pemKey, err = cryptox.GenerateRSAKey(2048)
	}
	require.NoError(t, err)

	s, err := jwtx.NewSigner(alg, kid, pemKey)
	require.NoError(t, err)
	return s
}

func TestVerifier_RoundTrip(t *testing.T) {
	for _, alg := range []string{jwtx.AlgorithmEdDSA, jwtx.AlgorithmES256, jwtx.AlgorithmRS256} {
		t.Run(alg, func(t *testing.T) {
			clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
			signer := newSigner(t, alg, "k1")
			require.Equal(t, alg, signer.Alg())

			keys := jwtx.NewKeySet()
			require.NoError(t, keys.AddSigner(signer))
			v := jwtx.NewVerifier(keys, jwtx.VerifyOptions{
				Algorithm: alg, Issuer: "timekeep", Audience: []string{"api"}, Clock: clock,
			})

			tok, err := signer.Sign(jwtx.NewClaims(testIdentity, jwtx.TokenUseAccess, "timekeep", []string{"api"}, clock.Now(), time.Minute))
			require.NoError(t, err)

			got, err := v.Verify(tok, jwtx.TokenUseAccess)
			require.NoError(t, err)
			require.Equal(t, testIdentity, got.Identity())

			clock.Advance(2 * time.Minute)
			_, err = v.Verify(tok, jwtx.TokenUseAccess)
			require.ErrorIs(t, err, jwtx.ErrExpired)
		})
	}
}

func TestVerifier_Rejects(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	signer := newSigner(t, jwtx.AlgorithmEdDSA, "k1")
	keys := jwtx.NewKeySet()
	require.NoError(t, keys.AddSigner(signer))
	v := jwtx.NewVerifier(keys, jwtx.VerifyOptions{
		Algorithm: jwtx.AlgorithmEdDSA, Issuer: "timekeep", Audience: []string{"api"}, Clock: clock,
	})

	sign := func(s jwtx.Signer, use jwtx.TokenUse, iss string, aud ...string) string {
		tok, err := s.Sign(jwtx.NewClaims(testIdentity, use, iss, aud, clock.Now(), time.Minute))
		require.NoError(t, err)
		return tok
	}

	good := sign(signer, jwtx.TokenUseAccess, "timekeep", "api")
	parts := strings.Split(good, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	tests := []struct {
		name  string
		token string
		use   jwtx.TokenUse
		want  error
	}{
		{"garbage", "not-a-jwt", jwtx.TokenUseAccess, jwtx.ErrMalformed},
		{"tampered signature", tampered, jwtx.TokenUseAccess, jwtx.ErrInvalidSig},
		{"wrong issuer", sign(signer, jwtx.TokenUseAccess, "evil", "api"), jwtx.TokenUseAccess, jwtx.ErrIssuer},
		{"wrong audience", sign(signer, jwtx.TokenUseAccess, "timekeep", "other"), jwtx.TokenUseAccess, jwtx.ErrAudience},
		{"refresh used as access", sign(signer, jwtx.TokenUseRefresh, "timekeep", "api"), jwtx.TokenUseAccess, jwtx.ErrWrongUse},
		{"unknown kid", sign(newSigner(t, jwtx.AlgorithmEdDSA, "k2"), jwtx.TokenUseAccess, "timekeep", "api"), jwtx.TokenUseAccess, jwtx.ErrUnknownKID},
		{"other algorithm", sign(newSigner(t, jwtx.AlgorithmES256, "k1"), jwtx.TokenUseAccess, "timekeep", "api"), jwtx.TokenUseAccess, jwtx.ErrInvalidSig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token, tt.use)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewSigner_Errors(t *testing.T) {
	ed, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)

	_, err = jwtx.NewSigner(jwtx.AlgorithmES256, "k", ed)
	require.Error(t, err, "Ed25519 key cannot sign ES256")

	_, err = jwtx.NewSigner("HS256", "k", ed)
	require.Error(t, err)

	_, err = jwtx.NewSigner(jwtx.AlgorithmEdDSA, "", ed)
	require.Error(t, err)

	_, err = jwtx.NewSigner(jwtx.AlgorithmEdDSA, "k", []byte("nope"))
	require.Error(t, err)
}
