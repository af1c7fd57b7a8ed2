// Package metrics defines the Prometheus metrics for the companion daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the companion service. The
// Record* helpers are nil-receiver safe so components can run without
// metrics in tests.
type Metrics struct {
	// Credential relay metrics
	CredentialCacheHits prometheus.Counter
	CredentialRequests  prometheus.Counter
	CredentialPushes    prometheus.Counter

	// Capture session metrics
	CaptureSessionsStarted prometheus.Counter
	CaptureSessionsEnded   *prometheus.CounterVec
	CaptureDuration        prometheus.Histogram

	// One-shot upload metrics
	UploadRequests  prometheus.Counter
	UploadSuccesses prometheus.Counter
	UploadFailures  prometheus.Counter
	UploadDuration  prometheus.Histogram

	// Realtime session metrics
	RealtimeConnects          prometheus.Counter
	RealtimeMessagesReceived  *prometheus.CounterVec
	RealtimeMalformedDropped  prometheus.Counter
	RealtimeTurns             *prometheus.CounterVec
	RealtimeKeepaliveFailures prometheus.Counter

	// Budget cache metrics
	BudgetRefreshes       prometheus.Counter
	BudgetRefreshFailures prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Credential relay metrics
		CredentialCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_credential_cache_hits_total",
			Help: "Total number of credential requests served from the cache",
		}),
		CredentialRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_credential_requests_total",
			Help: "Total number of token requests sent over the pairing channel",
		}),
		CredentialPushes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_credential_pushes_total",
			Help: "Total number of unsolicited credential pushes applied",
		}),

		// Capture session metrics
		CaptureSessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_capture_sessions_started_total",
			Help: "Total number of capture sessions started",
		}),
		CaptureSessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_capture_sessions_ended_total",
			Help: "Total number of capture sessions ended, by outcome",
		}, []string{"outcome"}),
		CaptureDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "companion_capture_duration_seconds",
			Help:    "Recording duration of capture sessions",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~2 minutes
		}),

		// One-shot upload metrics
		UploadRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_upload_requests_total",
			Help: "Total number of one-shot expense uploads sent",
		}),
		UploadSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_upload_successes_total",
			Help: "Total number of successful one-shot uploads",
		}),
		UploadFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_upload_failures_total",
			Help: "Total number of failed one-shot uploads",
		}),
		UploadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "companion_upload_duration_seconds",
			Help:    "Duration of one-shot upload requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Realtime session metrics
		RealtimeConnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_realtime_connects_total",
			Help: "Total number of realtime sessions opened",
		}),
		RealtimeMessagesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_realtime_messages_received_total",
			Help: "Total number of inbound realtime messages, by type",
		}, []string{"type"}),
		RealtimeMalformedDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_realtime_malformed_dropped_total",
			Help: "Total number of malformed inbound realtime messages dropped",
		}),
		RealtimeTurns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_realtime_turns_total",
			Help: "Total number of completed realtime turns, by outcome",
		}, []string{"outcome"}),
		RealtimeKeepaliveFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_realtime_keepalive_failures_total",
			Help: "Total number of keepalive ping failures (non-fatal)",
		}),

		// Budget cache metrics
		BudgetRefreshes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_budget_refreshes_total",
			Help: "Total number of successful budget cache refreshes",
		}),
		BudgetRefreshFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_budget_refresh_failures_total",
			Help: "Total number of failed budget cache refreshes",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "companion_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordCredentialCacheHit increments the credential cache hit counter
func (m *Metrics) RecordCredentialCacheHit() {
	if m == nil {
		return
	}
	m.CredentialCacheHits.Inc()
}

// RecordCredentialRequest increments the pairing-channel request counter
func (m *Metrics) RecordCredentialRequest() {
	if m == nil {
		return
	}
	m.CredentialRequests.Inc()
}

// RecordCredentialPush increments the applied-push counter
func (m *Metrics) RecordCredentialPush() {
	if m == nil {
		return
	}
	m.CredentialPushes.Inc()
}

// RecordCaptureStarted increments the capture sessions started counter
func (m *Metrics) RecordCaptureStarted() {
	if m == nil {
		return
	}
	m.CaptureSessionsStarted.Inc()
}

// RecordCaptureEnded records a finished capture session and its duration
func (m *Metrics) RecordCaptureEnded(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.CaptureSessionsEnded.WithLabelValues(outcome).Inc()
	m.CaptureDuration.Observe(durationSeconds)
}

// RecordUploadRequest increments the upload requests counter
func (m *Metrics) RecordUploadRequest() {
	if m == nil {
		return
	}
	m.UploadRequests.Inc()
}

// RecordUploadSuccess records a successful upload
func (m *Metrics) RecordUploadSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.UploadSuccesses.Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordUploadFailure records a failed upload
func (m *Metrics) RecordUploadFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.UploadFailures.Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordRealtimeConnect increments the realtime connects counter
func (m *Metrics) RecordRealtimeConnect() {
	if m == nil {
		return
	}
	m.RealtimeConnects.Inc()
}

// RecordRealtimeMessage records an inbound realtime message by type
func (m *Metrics) RecordRealtimeMessage(msgType string) {
	if m == nil {
		return
	}
	m.RealtimeMessagesReceived.WithLabelValues(msgType).Inc()
}

// RecordRealtimeMalformed increments the malformed-dropped counter
func (m *Metrics) RecordRealtimeMalformed() {
	if m == nil {
		return
	}
	m.RealtimeMalformedDropped.Inc()
}

// RecordRealtimeTurn records a completed turn by outcome
func (m *Metrics) RecordRealtimeTurn(outcome string) {
	if m == nil {
		return
	}
	m.RealtimeTurns.WithLabelValues(outcome).Inc()
}

// RecordKeepaliveFailure increments the keepalive failure counter
func (m *Metrics) RecordKeepaliveFailure() {
	if m == nil {
		return
	}
	m.RealtimeKeepaliveFailures.Inc()
}

// RecordBudgetRefresh records a budget cache refresh attempt
func (m *Metrics) RecordBudgetRefresh(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.BudgetRefreshes.Inc()
	} else {
		m.BudgetRefreshFailures.Inc()
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
