package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liamhowell4/budget-master-sub003/internal/credential"
	"github.com/liamhowell4/budget-master-sub003/internal/metrics"
	"github.com/liamhowell4/budget-master-sub003/internal/upload"
)

// State enumerates the capture session lifecycle.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateUploading
	StateSuccess
	StateError
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateUploading:
		return "uploading"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Default tunables.
const (
	DefaultSamplingInterval = 100 * time.Millisecond
	DefaultSafetyCeiling    = 60 * time.Second
	DefaultWaveformSize     = 40
	DefaultUploadTimeout    = 30 * time.Second
)

// Recorder owns the capture hardware. Start acquires the device and begins
// writing the artifact; Stop releases the device and returns the artifact
// path. Amplitude reports the current normalized input level (0.0-1.0).
type Recorder interface {
	Start() error
	Amplitude() float64
	Stop() (artifactPath string, err error)
}

// Uploader ships the finished artifact. *upload.Client satisfies this.
type Uploader interface {
	Process(ctx context.Context, token string, req *upload.Request) (*upload.Response, error)
}

// CredentialSource supplies the bearer credential. *credential.Relay
// satisfies this.
type CredentialSource interface {
	Get(ctx context.Context) (credential.Credential, error)
}

// Config contains capture machine tunables.
type Config struct {
	SamplingInterval time.Duration
	SafetyCeiling    time.Duration
	WaveformSize     int
	UploadTimeout    time.Duration
}

func (c *Config) applyDefaults() {
	if c.SamplingInterval <= 0 {
		c.SamplingInterval = DefaultSamplingInterval
	}
	if c.SafetyCeiling <= 0 {
		c.SafetyCeiling = DefaultSafetyCeiling
	}
	if c.WaveformSize <= 0 {
		c.WaveformSize = DefaultWaveformSize
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = DefaultUploadTimeout
	}
}

// Machine is the capture state machine. At most one capture session exists
// at a time; all state mutation is serialized through the machine's mutex,
// and redundant UI events (double start, stop while idle) are no-ops.
type Machine struct {
	cfg      Config
	recorder Recorder
	uploader Uploader
	creds    CredentialSource
	logger   *slog.Logger
	metrics  *metrics.Metrics

	state          State
	conversationID string
	startedAt      time.Time
	elapsed        time.Duration
	waveform       []float64
	result         *upload.Response
	errMsg         string

	// Timer lifetime is scoped to the recording: cancelTimers stops the
	// sampling ticker and the safety ceiling before any teardown.
	cancelTimers context.CancelFunc

	mu sync.Mutex
}

// Snapshot is a point-in-time view of the machine for monitoring surfaces.
type Snapshot struct {
	State          string           `json:"state"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Elapsed        float64          `json:"elapsed_seconds"`
	Waveform       []float64        `json:"waveform"`
	Result         *upload.Response `json:"result,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// NewMachine creates a capture machine in the idle state.
func NewMachine(cfg Config, recorder Recorder, uploader Uploader, creds CredentialSource, logger *slog.Logger, m *metrics.Metrics) *Machine {
	cfg.applyDefaults()

	return &Machine{
		cfg:      cfg,
		recorder: recorder,
		uploader: uploader,
		creds:    creds,
		logger:   logger,
		metrics:  m,
		state:    StateIdle,
		waveform: make([]float64, 0, cfg.WaveformSize),
	}
}

// Start begins a capture session. Valid only from idle; calling it in any
// other state is a no-op, so a second press while recording never acquires
// the device twice. A recorder acquisition failure (device busy, permission
// denied) transitions directly to error.
func (m *Machine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		m.logger.Debug("Ignoring start outside idle state",
			slog.String("state", m.state.String()),
		)
		return
	}

	// Reset accumulators for the new session
	m.elapsed = 0
	m.waveform = m.waveform[:0]
	m.result = nil
	m.errMsg = ""
	m.conversationID = uuid.NewString()

	if err := m.recorder.Start(); err != nil {
		m.state = StateError
		m.errMsg = fmt.Sprintf("could not start recording: %v", err)
		m.logger.Error("Capture device acquisition failed",
			slog.String("error", err.Error()),
		)
		m.metrics.RecordCaptureEnded("acquisition_failed", 0)
		return
	}

	m.state = StateRecording
	m.startedAt = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelTimers = cancel
	go m.samplingLoop(ctx)

	m.metrics.RecordCaptureStarted()
	m.logger.Info("Capture session started",
		slog.String("conversation_id", m.conversationID),
		slog.Duration("safety_ceiling", m.cfg.SafetyCeiling),
	)
}

// samplingLoop runs the fixed-rate amplitude sampler and the safety ceiling
// for one recording. Both timers live exactly as long as the recording.
func (m *Machine) samplingLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SamplingInterval)
	defer ticker.Stop()

	safety := time.NewTimer(m.cfg.SafetyCeiling)
	defer safety.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			m.sample()

		case <-safety.C:
			m.logger.Info("Safety ceiling reached, forcing upload",
				slog.Duration("ceiling", m.cfg.SafetyCeiling),
			)
			m.StopAndUpload()
			return
		}
	}
}

// sample appends one normalized amplitude value to the bounded waveform
// buffer and advances the elapsed duration.
func (m *Machine) sample() {
	amplitude := m.recorder.Amplitude()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRecording {
		return
	}

	m.elapsed += m.cfg.SamplingInterval

	if len(m.waveform) == m.cfg.WaveformSize {
		copy(m.waveform, m.waveform[1:])
		m.waveform[len(m.waveform)-1] = amplitude
	} else {
		m.waveform = append(m.waveform, amplitude)
	}
}

// StopAndUpload finishes the recording and ships the artifact. Valid only
// from recording; a no-op otherwise. The transient artifact is deleted on
// every exit path of the upload, success or not.
func (m *Machine) StopAndUpload() {
	m.mu.Lock()

	if m.state != StateRecording {
		m.mu.Unlock()
		return
	}

	m.cancelTimers()
	duration := m.elapsed

	artifact, err := m.recorder.Stop()
	if err != nil {
		m.state = StateError
		m.errMsg = fmt.Sprintf("could not finish recording: %v", err)
		m.mu.Unlock()

		m.removeArtifact(artifact)
		m.metrics.RecordCaptureEnded("error", duration.Seconds())
		m.logger.Error("Recorder stop failed", slog.String("error", err.Error()))
		return
	}

	m.state = StateUploading
	conversationID := m.conversationID
	m.mu.Unlock()

	m.logger.Info("Capture finished, uploading",
		slog.String("conversation_id", conversationID),
		slog.Duration("recorded", duration),
		slog.String("artifact", artifact),
	)

	go m.uploadArtifact(artifact, conversationID, duration)
}

// uploadArtifact ships the artifact via the one-shot multipart path and
// resolves the session to success or error.
func (m *Machine) uploadArtifact(artifact, conversationID string, duration time.Duration) {
	// Scoped-acquisition contract: the artifact is removed no matter how
	// the upload ends.
	defer m.removeArtifact(artifact)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.UploadTimeout)
	defer cancel()

	cred, err := m.creds.Get(ctx)
	if err != nil {
		m.finishWithError(fmt.Sprintf("not signed in: %v", err), duration)
		return
	}

	audio, err := os.ReadFile(artifact)
	if err != nil {
		m.finishWithError(fmt.Sprintf("could not read recording: %v", err), duration)
		return
	}

	resp, err := m.uploader.Process(ctx, cred.Token, &upload.Request{
		Audio:          audio,
		ConversationID: conversationID,
	})
	if err != nil {
		m.finishWithError(err.Error(), duration)
		return
	}

	m.mu.Lock()
	if m.state == StateUploading {
		m.state = StateSuccess
		m.result = resp
	}
	m.mu.Unlock()

	m.metrics.RecordCaptureEnded("success", duration.Seconds())
	m.logger.Info("Expense upload completed",
		slog.String("conversation_id", conversationID),
		slog.String("expense_id", resp.ExpenseID),
	)
}

// finishWithError resolves the uploading session to the error state.
func (m *Machine) finishWithError(message string, duration time.Duration) {
	m.mu.Lock()
	if m.state == StateUploading {
		m.state = StateError
		m.errMsg = message
	}
	m.mu.Unlock()

	m.metrics.RecordCaptureEnded("error", duration.Seconds())
	m.logger.Warn("Capture session failed", slog.String("error", message))
}

// Cancel aborts the recording without any network activity. Valid only from
// recording; a no-op otherwise.
func (m *Machine) Cancel() {
	m.mu.Lock()

	if m.state != StateRecording {
		m.mu.Unlock()
		return
	}

	m.cancelTimers()
	duration := m.elapsed

	artifact, err := m.recorder.Stop()
	if err != nil {
		m.logger.Warn("Recorder stop failed during cancel", slog.String("error", err.Error()))
	}

	m.state = StateIdle
	m.mu.Unlock()

	m.removeArtifact(artifact)
	m.metrics.RecordCaptureEnded("cancelled", duration.Seconds())
	m.logger.Info("Capture session cancelled", slog.Duration("recorded", duration))
}

// Acknowledge returns the machine to idle from a terminal state so the next
// capture can begin. A no-op outside success and error.
func (m *Machine) Acknowledge() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateSuccess && m.state != StateError {
		return
	}

	m.state = StateIdle
	m.result = nil
	m.errMsg = ""
}

// removeArtifact deletes the transient audio artifact, absorbing failures.
func (m *Machine) removeArtifact(artifact string) {
	if artifact == "" {
		return
	}

	if err := os.Remove(artifact); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Failed to remove capture artifact",
			slog.String("artifact", artifact),
			slog.String("error", err.Error()),
		)
	}
}

// State returns the current machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// GetSnapshot returns a point-in-time view for monitoring.
func (m *Machine) GetSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	waveform := make([]float64, len(m.waveform))
	copy(waveform, m.waveform)

	return Snapshot{
		State:          m.state.String(),
		ConversationID: m.conversationID,
		Elapsed:        m.elapsed.Seconds(),
		Waveform:       waveform,
		Result:         m.result,
		Error:          m.errMsg,
	}
}
