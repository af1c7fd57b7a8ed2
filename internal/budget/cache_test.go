package budget

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamhowell4/budget-master-sub003/internal/credential"
	"github.com/liamhowell4/budget-master-sub003/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticCreds struct {
	err error
}

func (c staticCreds) Get(ctx context.Context) (credential.Credential, error) {
	if c.err != nil {
		return credential.Credential{}, c.err
	}
	return credential.Credential{Token: "bearer-tok", IssuedAt: time.Now()}, nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "companion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRefreshWritesFractionToStore(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, SummaryPath, r.URL.Path)
		assert.Equal(t, "Bearer bearer-tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"usage_fraction":0.73,"total":812.4}`))
	}))
	defer ts.Close()

	st := openStore(t)
	r := NewRefresher(ts.URL, time.Hour, staticCreds{}, st, discardLogger(), nil)

	r.refresh(context.Background())

	fraction, _, ok, err := st.BudgetUsage()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.73, fraction)

	last, when := r.Last()
	assert.Equal(t, 0.73, last)
	assert.False(t, when.IsZero())
}

func TestRefreshAbsorbsCredentialFailure(t *testing.T) {
	st := openStore(t)
	r := NewRefresher("http://localhost:1", time.Hour, staticCreds{err: errors.New("not paired")}, st, discardLogger(), nil)

	r.refresh(context.Background())

	_, _, ok, err := st.BudgetUsage()
	require.NoError(t, err)
	assert.False(t, ok, "nothing cached after a failed refresh")
}

func TestRefreshAbsorbsServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer ts.Close()

	st := openStore(t)
	r := NewRefresher(ts.URL, time.Hour, staticCreds{}, st, discardLogger(), nil)

	r.refresh(context.Background())

	_, when := r.Last()
	assert.True(t, when.IsZero())
}

func TestRefreshKeepsLastGoodValue(t *testing.T) {
	failing := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"usage_fraction":0.4}`))
	}))
	defer ts.Close()

	st := openStore(t)
	r := NewRefresher(ts.URL, time.Hour, staticCreds{}, st, discardLogger(), nil)

	r.refresh(context.Background())
	failing = true
	r.refresh(context.Background())

	fraction, _, ok, err := st.BudgetUsage()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.4, fraction, "cache holds the last successful fetch")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"usage_fraction":0.1}`))
	}))
	defer ts.Close()

	st := openStore(t)
	r := NewRefresher(ts.URL, 10*time.Millisecond, staticCreds{}, st, discardLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestTrailingSlashBaseURLHitsSummaryPath(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, SummaryPath, r.URL.Path)
		w.Write([]byte(`{"usage_fraction":0.25}`))
	}))
	defer ts.Close()

	st := openStore(t)
	r := NewRefresher(ts.URL+"/", time.Hour, staticCreds{}, st, discardLogger(), nil)

	r.refresh(context.Background())

	last, _ := r.Last()
	assert.Equal(t, 0.25, last)
}
