// Package budget keeps a best-effort local cache of the fractional budget
// usage consumed by the glanceable widget. Fetch failures are logged and
// absorbed; the cache simply holds the last successful fetch.
package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/liamhowell4/budget-master-sub003/internal/credential"
	"github.com/liamhowell4/budget-master-sub003/internal/metrics"
	"github.com/liamhowell4/budget-master-sub003/internal/store"
)

const (
	// SummaryPath is the backend endpoint returning the budget summary.
	SummaryPath = "/api/budget/summary"

	// DefaultRefreshInterval between fetch attempts.
	DefaultRefreshInterval = 15 * time.Minute

	requestTimeout = 10 * time.Second
)

// summaryResponse is the slice of the backend summary we care about.
type summaryResponse struct {
	UsageFraction float64 `json:"usage_fraction"`
}

// CredentialSource supplies a valid bearer credential.
type CredentialSource interface {
	Get(ctx context.Context) (credential.Credential, error)
}

// Refresher periodically fetches the budget-usage fraction and writes it to
// shared storage.
type Refresher struct {
	baseURL  string
	interval time.Duration
	client   *http.Client
	creds    CredentialSource
	store    *store.Store
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu           sync.Mutex
	lastFraction float64
	lastFetch    time.Time
}

// NewRefresher creates a refresher with the given fetch interval; 0 means
// DefaultRefreshInterval.
func NewRefresher(baseURL string, interval time.Duration, creds CredentialSource, st *store.Store, logger *slog.Logger, m *metrics.Metrics) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	return &Refresher{
		baseURL:  baseURL,
		interval: interval,
		client:   &http.Client{Timeout: requestTimeout},
		creds:    creds,
		store:    st,
		logger:   logger,
		metrics:  m,
	}
}

// Run refreshes immediately, then on the configured interval until ctx is
// cancelled. Individual failures never stop the loop.
func (r *Refresher) Run(ctx context.Context) error {
	r.refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	fraction, err := r.fetch(ctx)
	if err != nil {
		r.metrics.RecordBudgetRefresh(false)
		r.logger.Warn("Budget refresh failed",
			slog.String("error", err.Error()))
		return
	}

	if err := r.store.SetBudgetUsage(fraction); err != nil {
		r.metrics.RecordBudgetRefresh(false)
		r.logger.Warn("Failed to cache budget usage",
			slog.String("error", err.Error()))
		return
	}

	r.mu.Lock()
	r.lastFraction = fraction
	r.lastFetch = time.Now()
	r.mu.Unlock()

	r.metrics.RecordBudgetRefresh(true)
	r.logger.Debug("Budget usage cached",
		slog.Float64("fraction", fraction))
}

func (r *Refresher) fetch(ctx context.Context) (float64, error) {
	cred, err := r.creds.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("no credential for budget fetch: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	endpoint := strings.TrimSuffix(r.baseURL, "/") + SummaryPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("budget request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("HTTP error %d from budget summary", resp.StatusCode)
	}

	var summary summaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return 0, fmt.Errorf("failed to decode budget summary: %w", err)
	}

	return summary.UsageFraction, nil
}

// Last returns the most recently fetched fraction and its fetch time; the
// zero time means no successful fetch has happened yet.
func (r *Refresher) Last() (float64, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFraction, r.lastFetch
}
