package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "companion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestCredentialRoundTrip(t *testing.T) {
	s := newTestStore(t)

	_, _, ok, err := s.LoadCredential()
	require.NoError(t, err)
	assert.False(t, ok, "empty store should have no credential")

	issuedAt := time.Now().Add(-10 * time.Minute)
	require.NoError(t, s.SaveCredential("tok-1", issuedAt))

	token, loadedAt, ok, err := s.LoadCredential()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-1", token)
	assert.True(t, loadedAt.Equal(issuedAt), "issued-at should round-trip exactly")
}

func TestCredentialReplaced(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveCredential("old", time.Now().Add(-time.Hour)))

	fresh := time.Now()
	require.NoError(t, s.SaveCredential("new", fresh))

	token, issuedAt, ok, err := s.LoadCredential()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", token)
	assert.True(t, issuedAt.Equal(fresh))
}

func TestBudgetUsage(t *testing.T) {
	s := newTestStore(t)

	_, _, ok, err := s.BudgetUsage()
	require.NoError(t, err)
	assert.False(t, ok, "empty store should have no budget cache")

	require.NoError(t, s.SetBudgetUsage(0.73))

	fraction, updatedAt, ok, err := s.BudgetUsage()
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.73, fraction, 1e-9)
	assert.WithinDuration(t, time.Now(), updatedAt, 5*time.Second)

	// Over-budget values above 1.0 are valid
	require.NoError(t, s.SetBudgetUsage(1.25))

	fraction, _, ok, err = s.BudgetUsage()
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.25, fraction, 1e-9)
}
