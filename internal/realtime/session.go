package realtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liamhowell4/budget-master-sub003/internal/metrics"
	"github.com/liamhowell4/budget-master-sub003/internal/wav"
)

const (
	// StreamPath is the streaming endpoint path on the backend.
	StreamPath = "/ws/realtime"

	// DefaultKeepaliveInterval is how often a keepalive ping is sent for the
	// lifetime of the connection.
	DefaultKeepaliveInterval = 20 * time.Second

	// DefaultChunkSize is the outbound PCM chunk size in bytes.
	DefaultChunkSize = 4096

	// DefaultAudioSampleRate and DefaultAudioChannels describe the raw PCM16
	// format the backend streams in response_audio_delta messages.
	DefaultAudioSampleRate = 24000
	DefaultAudioChannels   = 1

	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// Config holds session tunables.
type Config struct {
	// Mode selects voice or text interaction on connect.
	Mode string
	// KeepaliveInterval between pings; 0 means DefaultKeepaliveInterval.
	KeepaliveInterval time.Duration
	// MalformedWarnThreshold controls the diagnostic policy for dropped
	// inbound frames: a warning is logged every N consecutive malformed
	// frames. 0 disables the warning entirely.
	MalformedWarnThreshold int
	// ChunkSize is the outbound PCM chunk size in bytes.
	ChunkSize int
	// AudioSampleRate and AudioChannels of the inbound raw PCM16 stream.
	AudioSampleRate int
	AudioChannels   int
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeVoice
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.AudioSampleRate <= 0 {
		c.AudioSampleRate = DefaultAudioSampleRate
	}
	if c.AudioChannels <= 0 {
		c.AudioChannels = DefaultAudioChannels
	}
}

// Session is one open streaming connection to the backend. It stays open
// across multiple turns until Disconnect is called or the transport fails.
//
// Turn accumulators live on the read loop goroutine and are never shared;
// the mutex guards the connection handle and the counters read by other
// goroutines.
type Session struct {
	cfg     Config
	baseURL string
	logger  *slog.Logger
	metrics *metrics.Metrics

	results chan TurnResult

	mu              sync.Mutex
	conn            *websocket.Conn
	closing         bool
	keepaliveCancel context.CancelFunc
	lastTurn        *TurnResult

	// Serializes all frame writes (keepalive goroutine vs. senders).
	writeMu sync.Mutex

	// Statistics
	messagesReceived uint64
	turnsCompleted   uint64
	droppedFrames    uint64
}

// turn holds the accumulators for one in-flight turn. Each read loop owns
// its turn state exclusively, so a reconnect can never touch the buffers a
// previous loop is still draining.
type turn struct {
	text      strings.Builder
	audio     []byte
	malformed int
}

// NewSession creates a disconnected session. baseURL is the same base
// address used for one-shot backend calls; the streaming scheme is derived
// from it on connect.
func NewSession(cfg Config, baseURL string, logger *slog.Logger, m *metrics.Metrics) *Session {
	cfg.applyDefaults()

	return &Session{
		cfg:     cfg,
		baseURL: baseURL,
		logger:  logger,
		metrics: m,
		results: make(chan TurnResult, 8),
	}
}

// Results delivers one TurnResult per completed turn, plus a terminal error
// result when the transport fails.
func (s *Session) Results() <-chan TurnResult {
	return s.results
}

// Connect opens the streaming channel using the given credential token.
// No-op if already connected.
func (s *Session) Connect(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.logger.Debug("Realtime session already connected")
		return nil
	}

	endpoint, err := s.streamURL(token)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to connect realtime session: %w", err)
	}

	s.conn = conn
	s.closing = false

	keepaliveCtx, cancel := context.WithCancel(context.Background())
	s.keepaliveCancel = cancel

	go s.readLoop(conn)
	go s.keepaliveLoop(keepaliveCtx, conn)

	s.metrics.RecordRealtimeConnect()
	s.logger.Info("Realtime session connected",
		slog.String("mode", s.cfg.Mode))

	return nil
}

// streamURL derives the streaming endpoint from the one-shot base address,
// upgrading the scheme and attaching the credential and mode.
func (s *Session) streamURL(token string) (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", s.baseURL, err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q in base URL", u.Scheme)
	}

	u.Path = StreamPath
	q := url.Values{}
	q.Set("token", token)
	q.Set("mode", s.cfg.Mode)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Disconnect cancels the keepalive timer and closes the channel. Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	cancel := s.keepaliveCancel
	s.conn = nil
	s.keepaliveCancel = nil
	s.closing = true
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
		s.logger.Info("Realtime session disconnected")
	}
}

// SendAudio splits raw PCM into fixed-size chunks and ships each as an
// audio_chunk message.
func (s *Session) SendAudio(pcm []byte) error {
	for offset := 0; offset < len(pcm); offset += s.cfg.ChunkSize {
		end := offset + s.cfg.ChunkSize
		if end > len(pcm) {
			end = len(pcm)
		}

		msg := Message{
			Type: TypeAudioChunk,
			Data: base64.StdEncoding.EncodeToString(pcm[offset:end]),
		}
		if err := s.send(&msg); err != nil {
			return err
		}
	}
	return nil
}

// FinishUtterance marks the end of the user utterance for the current turn.
func (s *Session) FinishUtterance() error {
	return s.send(&Message{Type: TypeAudioDone})
}

// CancelTurn aborts the in-flight turn. Local teardown does not wait for a
// server acknowledgement.
func (s *Session) CancelTurn() error {
	return s.send(&Message{Type: TypeCancel})
}

func (s *Session) send(msg *Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("realtime session is not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s message: %w", msg.Type, err)
	}
	return nil
}

// readLoop processes inbound frames in transport delivery order until the
// connection closes. The turn state is local to the loop.
func (s *Session) readLoop(conn *websocket.Conn) {
	t := &turn{}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.handleTransportClose(conn, err)
			return
		}
		s.handleFrame(t, raw)
	}
}

func (s *Session) handleFrame(t *turn, raw []byte) {
	msg, err := decodeMessage(raw)
	if err != nil {
		s.dropFrame(t, err)
		return
	}

	t.malformed = 0

	s.mu.Lock()
	s.messagesReceived++
	s.mu.Unlock()

	s.metrics.RecordRealtimeMessage(msg.Type)

	switch msg.Type {
	case TypeInputTranscript:
		// Informational only; does not terminate the turn.
		s.logger.Debug("Input transcript received",
			slog.String("text", msg.Text))

	case TypeResponseTextDelta:
		t.text.WriteString(msg.Text)

	case TypeResponseAudioDelta:
		chunk, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			// A bad chunk drops only itself, not the turn.
			s.dropFrame(t, fmt.Errorf("undecodable audio delta: %w", err))
			return
		}
		t.audio = append(t.audio, chunk...)

	case TypeResponseDone:
		s.finishTurn(t, msg)

	case TypeError:
		s.failTurn(t, msg.Message)

	default:
		s.logger.Debug("Ignoring unknown message type",
			slog.String("type", msg.Type))
	}
}

// dropFrame absorbs a malformed inbound frame. Repeated drops surface a
// diagnostic once the configured threshold is crossed.
func (s *Session) dropFrame(t *turn, cause error) {
	s.mu.Lock()
	s.droppedFrames++
	s.mu.Unlock()

	t.malformed++
	count := t.malformed

	s.metrics.RecordRealtimeMalformed()

	if s.cfg.MalformedWarnThreshold > 0 && count%s.cfg.MalformedWarnThreshold == 0 {
		s.logger.Warn("Repeated malformed realtime frames dropped",
			slog.Int("consecutive", count),
			slog.String("last_error", cause.Error()))
	} else {
		s.logger.Debug("Dropped malformed realtime frame",
			slog.String("error", cause.Error()))
	}
}

// finishTurn drains both accumulators exactly once and emits the result.
func (s *Session) finishTurn(t *turn, msg *Message) {
	text := t.text.String()
	audio := t.audio
	t.text.Reset()
	t.audio = nil

	result := TurnResult{Outcome: OutcomeText, Text: text}

	if len(msg.ExpenseSaved) > 0 {
		expense, err := decodeExpense(msg.ExpenseSaved)
		if err != nil {
			s.logger.Warn("Invalid expense payload in response_done",
				slog.String("error", err.Error()))
		} else {
			result.Outcome = OutcomeExpense
			result.Expense = expense
		}
	}

	if len(audio) > 0 {
		container, err := wav.Synthesize(audio, s.cfg.AudioSampleRate, s.cfg.AudioChannels)
		if err != nil {
			s.logger.Warn("Failed to synthesize response audio",
				slog.String("error", err.Error()))
		} else {
			result.Audio = container
		}
	}

	s.emit(result)
}

// failTurn discards the accumulators and emits a server-reported error.
func (s *Session) failTurn(t *turn, message string) {
	t.text.Reset()
	t.audio = nil

	s.emit(TurnResult{Outcome: OutcomeError, Err: message})
}

func (s *Session) emit(result TurnResult) {
	s.mu.Lock()
	s.turnsCompleted++
	s.lastTurn = &result
	s.mu.Unlock()

	s.metrics.RecordRealtimeTurn(string(result.Outcome))

	select {
	case s.results <- result:
	default:
		s.logger.Warn("Dropping turn result, consumer not draining",
			slog.String("outcome", string(result.Outcome)))
	}
}

// handleTransportClose tears the session down after the receive loop fails.
// An explicit Disconnect is quiet; anything else surfaces a transport error.
func (s *Session) handleTransportClose(conn *websocket.Conn, err error) {
	s.mu.Lock()
	expected := s.closing || s.conn != conn
	cancel := s.keepaliveCancel
	if s.conn == conn {
		s.conn = nil
		s.keepaliveCancel = nil
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	conn.Close()

	if expected {
		return
	}

	s.logger.Error("Realtime transport failure",
		slog.String("error", err.Error()))
	s.emit(TurnResult{
		Outcome: OutcomeError,
		Err:     fmt.Sprintf("connection lost: %v", err),
	})
}

// keepaliveLoop pings on a fixed interval for the lifetime of the
// connection. Ping failures are logged but never tear the session down.
func (s *Session) keepaliveLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			s.writeMu.Unlock()
			if err != nil {
				s.metrics.RecordKeepaliveFailure()
				s.logger.Warn("Keepalive ping failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

// LastTurn returns the most recently completed turn result, for polling
// surfaces that do not drain the Results channel.
func (s *Session) LastTurn() (TurnResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastTurn == nil {
		return TurnResult{}, false
	}
	return *s.lastTurn, true
}

// Connected reports whether the session currently holds an open channel.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// GetStats returns session statistics for monitoring.
func (s *Session) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]interface{}{
		"connected":         s.conn != nil,
		"mode":              s.cfg.Mode,
		"messages_received": s.messagesReceived,
		"turns_completed":   s.turnsCompleted,
		"dropped_frames":    s.droppedFrames,
	}
}
