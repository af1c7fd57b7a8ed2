package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamhowell4/budget-master-sub003/internal/budget"
	"github.com/liamhowell4/budget-master-sub003/internal/capture"
	"github.com/liamhowell4/budget-master-sub003/internal/config"
	"github.com/liamhowell4/budget-master-sub003/internal/credential"
	"github.com/liamhowell4/budget-master-sub003/internal/metrics"
	"github.com/liamhowell4/budget-master-sub003/internal/pairing"
	"github.com/liamhowell4/budget-master-sub003/internal/realtime"
	"github.com/liamhowell4/budget-master-sub003/internal/upload"
)

// maxUtteranceBytes bounds a single /realtime/send body (about 60 s of
// 24 kHz mono PCM-16).
const maxUtteranceBytes = 4 << 20

// HTTPServer provides the local HTTP API used by the companion UI to drive
// capture and realtime sessions, plus monitoring endpoints.
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	machine *capture.Machine
	session *realtime.Session
	relay   *credential.Relay
	link    *pairing.Listener
	upload  *upload.Client
	budget  *budget.Refresher
	metrics *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, machine *capture.Machine, session *realtime.Session,
	relay *credential.Relay, link *pairing.Listener, uploadClient *upload.Client,
	budgetRefresher *budget.Refresher, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		machine:   machine,
		session:   session,
		relay:     relay,
		link:      link,
		upload:    uploadClient,
		budget:    budgetRefresher,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Monitoring endpoints
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Capture control endpoints
	mux.HandleFunc("/capture/start", h.withMetrics("/capture/start", h.handleCaptureStart))
	mux.HandleFunc("/capture/stop", h.withMetrics("/capture/stop", h.handleCaptureStop))
	mux.HandleFunc("/capture/cancel", h.withMetrics("/capture/cancel", h.handleCaptureCancel))
	mux.HandleFunc("/capture/ack", h.withMetrics("/capture/ack", h.handleCaptureAck))

	// Realtime control endpoints
	mux.HandleFunc("/realtime/connect", h.withMetrics("/realtime/connect", h.handleRealtimeConnect))
	mux.HandleFunc("/realtime/disconnect", h.withMetrics("/realtime/disconnect", h.handleRealtimeDisconnect))
	mux.HandleFunc("/realtime/send", h.withMetrics("/realtime/send", h.handleRealtimeSend))
	mux.HandleFunc("/realtime/cancel", h.withMetrics("/realtime/cancel", h.handleRealtimeCancel))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	linkStats := h.link.GetStatistics()
	uploadStats := h.upload.GetStats()

	_, hasCredential := h.relay.Cached()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "companion-daemon",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"pairing_link": map[string]interface{}{
				"connected":         linkStats.Connected,
				"payloads_received": linkStats.PayloadsReceived,
				"requests_sent":     linkStats.RequestsSent,
				"decode_errors":     linkStats.DecodeErrors,
			},
			"credential": map[string]interface{}{
				"cached_valid": hasCredential,
			},
			"capture": map[string]interface{}{
				"state": h.machine.State().String(),
			},
			"realtime": map[string]interface{}{
				"connected": h.session.Connected(),
			},
			"upload": map[string]interface{}{
				"total_requests": uploadStats.TotalRequests,
				"success_rate":   uploadStats.SuccessRate,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleStatus implements the /status endpoint: a point-in-time view of the
// capture machine, the realtime session, and the budget cache.
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	budgetFraction, budgetFetched := h.budget.Last()

	realtimeStatus := h.session.GetStats()
	if lastTurn, ok := h.session.LastTurn(); ok {
		realtimeStatus["last_turn"] = lastTurn
	}

	status := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"capture":   h.machine.GetSnapshot(),
		"realtime":  realtimeStatus,
		"budget": map[string]interface{}{
			"usage_fraction": budgetFraction,
			"last_fetch":     budgetFetched,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (no credential material is held in
	// config, but keep the shape explicit)
	sanitizedConfig := map[string]interface{}{
		"backend": map[string]interface{}{
			"base_url": h.config.Backend.BaseURL,
			"timeout":  h.config.Backend.Timeout,
		},
		"pairing": map[string]interface{}{
			"listen_addr":     h.config.Pairing.ListenAddr,
			"request_timeout": h.config.Pairing.RequestTimeout,
		},
		"capture": map[string]interface{}{
			"sampling_interval": h.config.Capture.SamplingInterval,
			"safety_ceiling":    h.config.Capture.SafetyCeiling,
			"waveform_size":     h.config.Capture.WaveformSize,
			"command":           h.config.Capture.Command,
			"artifact_dir":      h.config.Capture.ArtifactDir,
		},
		"realtime": map[string]interface{}{
			"mode":                     h.config.Realtime.Mode,
			"keepalive_interval":       h.config.Realtime.KeepaliveInterval,
			"malformed_warn_threshold": h.config.Realtime.MalformedWarnThreshold,
			"chunk_size":               h.config.Realtime.ChunkSize,
			"audio_sample_rate":        h.config.Realtime.AudioSampleRate,
			"audio_channels":           h.config.Realtime.AudioChannels,
		},
		"budget": map[string]interface{}{
			"refresh_interval": h.config.Budget.RefreshInterval,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleCaptureStart implements POST /capture/start
func (h *HTTPServer) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.machine.Start()
	h.writeSnapshot(w)
}

// handleCaptureStop implements POST /capture/stop
func (h *HTTPServer) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.machine.StopAndUpload()
	h.writeSnapshot(w)
}

// handleCaptureCancel implements POST /capture/cancel
func (h *HTTPServer) handleCaptureCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.machine.Cancel()
	h.writeSnapshot(w)
}

// handleCaptureAck implements POST /capture/ack
func (h *HTTPServer) handleCaptureAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.machine.Acknowledge()
	h.writeSnapshot(w)
}

func (h *HTTPServer) writeSnapshot(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.machine.GetSnapshot())
}

// handleRealtimeConnect implements POST /realtime/connect
func (h *HTTPServer) handleRealtimeConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cred, err := h.relay.Get(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("no credential available: %v", err), http.StatusServiceUnavailable)
		return
	}

	if err := h.session.Connect(r.Context(), cred.Token); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.session.GetStats())
}

// handleRealtimeSend implements POST /realtime/send: the request body is the
// raw PCM utterance, shipped in chunks and terminated with audio_done. The
// turn result surfaces asynchronously under /status once the backend replies.
func (h *HTTPServer) handleRealtimeSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pcm, err := io.ReadAll(io.LimitReader(r.Body, maxUtteranceBytes))
	if err != nil {
		http.Error(w, fmt.Sprintf("could not read utterance: %v", err), http.StatusBadRequest)
		return
	}
	if len(pcm) == 0 {
		http.Error(w, "empty utterance", http.StatusBadRequest)
		return
	}

	if err := h.session.SendAudio(pcm); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err := h.session.FinishUtterance(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accepted": true,
		"bytes":    len(pcm),
	})
}

// handleRealtimeCancel implements POST /realtime/cancel, aborting the
// in-flight turn.
func (h *HTTPServer) handleRealtimeCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.session.CancelTurn(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.session.GetStats())
}

// handleRealtimeDisconnect implements POST /realtime/disconnect
func (h *HTTPServer) handleRealtimeDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.session.Disconnect()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.session.GetStats())
}

// handleRoot implements the root endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "companion-daemon",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"GET /health":               "Service health and component status",
			"GET /status":               "Capture, realtime and budget state",
			"GET /config":               "Active configuration (sanitized)",
			"GET /metrics":              "Prometheus metrics",
			"POST /capture/start":       "Begin a capture session",
			"POST /capture/stop":        "Stop recording and upload",
			"POST /capture/cancel":      "Cancel the recording without upload",
			"POST /capture/ack":         "Acknowledge a terminal capture state",
			"POST /realtime/connect":    "Open the realtime session",
			"POST /realtime/disconnect": "Close the realtime session",
			"POST /realtime/send":       "Ship a PCM utterance over the session",
			"POST /realtime/cancel":     "Abort the in-flight realtime turn",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
