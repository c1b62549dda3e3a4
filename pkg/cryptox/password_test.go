package cryptox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPasswordHasher_Hash(t *testing.T) {
	t.Parallel()

	h := NewPasswordHasher("test-pepper")
	tests := []struct {
		name     string
		password string
	}{
		{"simple password", "password123"},
		{"complex password", "P@ssw0rd!#$%^&*()"},
		{"long password", strings.Repeat("a", 100)},
		{"empty password", ""},
		{"whitespace password", "   spaces   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := h.Hash(tt.password)
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))

			parts := strings.Split(hash, "$")
			require.Len(t, parts, 6)
			require.Equal(t, "m=19456,t=2,p=1", parts[3])
			require.NotEmpty(t, parts[4])
			require.NotEmpty(t, parts[5])

			require.NoError(t, h.Verify(tt.password, hash))
		})
	}
}

func TestPasswordHasher_SaltIsRandom(t *testing.T) {
	t.Parallel()

	h := NewPasswordHasher("p")
	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestPasswordHasher_Verify(t *testing.T) {
	t.Parallel()

	h := NewPasswordHasher("pepper-one")
	hash, err := h.Hash("correct horse")
	require.NoError(t, err)

	t.Run("wrong password", func(t *testing.T) {
		require.ErrorIs(t, h.Verify("battery staple", hash), ErrPasswordMismatch)
	})

	t.Run("different pepper", func(t *testing.T) {
		other := NewPasswordHasher("pepper-two")
		require.ErrorIs(t, other.Verify("correct horse", hash), ErrPasswordMismatch)
	})

	t.Run("malformed hashes", func(t *testing.T) {
		for _, bad := range []string{
			"",
			"plain",
			"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
			"$argon2id$v=18$m=1,t=1,p=1$c2FsdA$aGFzaA",
			"$argon2id$v=19$garbage$c2FsdA$aGFzaA",
			"$argon2id$v=19$m=1,t=1,p=1$!!!$aGFzaA",
		} {
			err := h.Verify("x", bad)
			require.Error(t, err, bad)
			require.NotErrorIs(t, err, ErrPasswordMismatch, bad)
		}
	})
}

func TestLoadOrCreatePepper(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "pepper")

	first, err := LoadOrCreatePepper(path)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := LoadOrCreatePepper(path)
	require.NoError(t, err)
	require.Equal(t, first, second, "pepper must be stable across restarts")
}

func TestLoadOrCreatePepper_Empty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pepper")
	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o600))

	_, err := LoadOrCreatePepper(path)
	require.Error(t, err)
}
