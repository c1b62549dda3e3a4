package idx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/timekeep/pkg/idx"
)

func TestNewAndParse(t *testing.T) {
	id := idx.New()
	require.Len(t, id, 26)

	parsed, err := idx.Parse(" " + id + " ")
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = idx.Parse("")
	require.ErrorIs(t, err, idx.ErrInvalid)
	_, err = idx.Parse("not-a-ulid")
	require.ErrorIs(t, err, idx.ErrInvalid)
}

func TestMonotonicWithinMillisecond(t *testing.T) {
	at := time.Unix(1700000000, 0)
	prev := idx.NewAt(at)
	for range 100 {
		next := idx.NewAt(at)
		require.Less(t, prev, next)
		prev = next
	}
}

func TestTime(t *testing.T) {
	tm := time.Unix(1700000000, 0).UTC()
	require.Equal(t, tm, idx.Time(idx.NewAt(tm)))
	require.True(t, idx.Time("bogus").IsZero())
}

func TestParseDevice(t *testing.T) {
	d := idx.NewDevice()

	got, err := idx.ParseDevice(strings.ToUpper(d))
	require.NoError(t, err)
	require.Equal(t, d, got)

	for _, bad := range []string{"", "laptop", "00000000-0000-0000-0000-000000000000"} {
		_, err := idx.ParseDevice(bad)
		require.ErrorIs(t, err, idx.ErrInvalid, bad)
	}
}
