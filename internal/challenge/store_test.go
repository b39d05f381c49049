package challenge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
	"github.com/dev-tnsq/verbex/internal/model"
)

func testStore(ttl time.Duration) (*MemoryStore, *time.Time) {
	s := NewMemoryStore(ttl)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	return s, &now
}

func env(id string) model.PendingEnvelope {
	return model.PendingEnvelope{ID: id, Protocol: "blend", Action: "lend", UnsignedXDR: "AAAA"}
}

func TestTakeIsOneShot(t *testing.T) {
	s, _ := testStore(time.Minute)
	s.Put(env("pend_1"))

	got, err := s.Take("pend_1")
	require.NoError(t, err)
	require.Equal(t, "AAAA", got.UnsignedXDR)

	_, err = s.Take("pend_1")
	require.Error(t, err, "a ceremony redeems exactly once")
}

func TestTakeUnknownID(t *testing.T) {
	s, _ := testStore(time.Minute)
	_, err := s.Take("pend_missing")
	typed, ok := clierr.As(err)
	require.True(t, ok)
	require.Equal(t, clierr.CodeUsage, typed.Code)
}

func TestTakeExpired(t *testing.T) {
	s, now := testStore(time.Minute)
	s.Put(env("pend_1"))
	*now = now.Add(2 * time.Minute)

	_, err := s.Take("pend_1")
	typed, ok := clierr.As(err)
	require.True(t, ok)
	require.Equal(t, clierr.CodeStale, typed.Code)

	// Expired entries are gone after the failed Take.
	_, err = s.Take("pend_1")
	typed, ok = clierr.As(err)
	require.True(t, ok)
	require.Equal(t, clierr.CodeUsage, typed.Code)
}

func TestSweepExpired(t *testing.T) {
	s, now := testStore(time.Minute)
	s.Put(env("pend_old"))
	*now = now.Add(30 * time.Second)
	s.Put(env("pend_new"))
	*now = now.Add(45 * time.Second)

	require.Equal(t, 1, s.SweepExpired())

	_, err := s.Take("pend_new")
	require.NoError(t, err)
}
