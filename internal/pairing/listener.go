package pairing

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// ErrNotPaired is returned when no primary device is connected to the link.
var ErrNotPaired = errors.New("pairing channel unreachable: no primary device connected")

// Sink receives decoded token payloads from the link. The credential relay
// implements this interface.
type Sink interface {
	HandleTokenPayload(token string, issuedAt time.Time)
}

// Listener hosts the companion side of the pairing link. The primary device
// connects over a local socket and exchanges newline-delimited JSON messages.
// At most one primary connection is active; a new connection replaces the
// previous one.
type Listener struct {
	addr   string
	logger *slog.Logger
	sink   Sink

	ln net.Listener

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Current primary connection
	conn net.Conn

	// Link statistics
	payloadsReceived uint64
	requestsSent     uint64
	decodeErrors     uint64

	mu sync.RWMutex
}

// LinkStatistics represents pairing link metrics for monitoring
type LinkStatistics struct {
	Connected        bool   `json:"connected"`
	PayloadsReceived uint64 `json:"payloads_received"`
	RequestsSent     uint64 `json:"requests_sent"`
	DecodeErrors     uint64 `json:"decode_errors"`
}

// NewListener creates a new pairing link listener.
func NewListener(addr string, logger *slog.Logger, sink Sink) *Listener {
	ctx, cancel := context.WithCancel(context.Background())

	return &Listener{
		addr:   addr,
		logger: logger,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins accepting primary device connections.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on pairing address: %w", err)
	}

	l.ln = ln

	l.logger.Info("Pairing link listening",
		slog.String("address", ln.Addr().String()),
	)

	l.wg.Add(1)
	go l.acceptLoop()

	return nil
}

// Stop gracefully stops the listener and closes the primary connection.
func (l *Listener) Stop() error {
	l.logger.Info("Stopping pairing link...")

	l.cancel()

	if l.ln != nil {
		if err := l.ln.Close(); err != nil {
			l.logger.Warn("Error closing pairing listener", slog.String("error", err.Error()))
		}
	}

	l.mu.Lock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.mu.Unlock()

	l.wg.Wait()

	stats := l.GetStatistics()
	l.logger.Info("Pairing link stopped",
		slog.Uint64("payloads_received", stats.PayloadsReceived),
		slog.Uint64("requests_sent", stats.RequestsSent),
		slog.Uint64("decode_errors", stats.DecodeErrors),
	)

	return nil
}

// Addr returns the bound listen address, useful when the configured port is 0.
func (l *Listener) Addr() string {
	if l.ln == nil {
		return l.addr
	}
	return l.ln.Addr().String()
}

// RequestToken sends a token request to the connected primary device. It does
// not wait for the reply; replies arrive asynchronously through the Sink.
func (l *Listener) RequestToken(ctx context.Context) error {
	l.mu.RLock()
	conn := l.conn
	l.mu.RUnlock()

	if conn == nil {
		return ErrNotPaired
	}

	data, err := EncodeTokenRequest()
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	}

	if _, err := conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to send token request: %w", err)
	}

	l.mu.Lock()
	l.requestsSent++
	l.mu.Unlock()

	l.logger.Debug("Token request sent to primary device")

	return nil
}

// GetStatistics returns current link statistics.
func (l *Listener) GetStatistics() LinkStatistics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return LinkStatistics{
		Connected:        l.conn != nil,
		PayloadsReceived: l.payloadsReceived,
		RequestsSent:     l.requestsSent,
		DecodeErrors:     l.decodeErrors,
	}
}

// acceptLoop accepts primary device connections, keeping only the newest.
func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.ctx.Done():
				return
			default:
				l.logger.Error("Failed to accept pairing connection", slog.String("error", err.Error()))
				continue
			}
		}

		l.mu.Lock()
		if l.conn != nil {
			l.logger.Info("Replacing existing primary device connection",
				slog.String("old_remote", l.conn.RemoteAddr().String()),
				slog.String("new_remote", conn.RemoteAddr().String()),
			)
			l.conn.Close()
		}
		l.conn = conn
		l.mu.Unlock()

		l.logger.Info("Primary device connected",
			slog.String("remote_addr", conn.RemoteAddr().String()),
		)

		l.wg.Add(1)
		go l.readLoop(conn)
	}
}

// readLoop reads newline-delimited messages from a primary connection and
// dispatches decoded token payloads to the sink.
func (l *Listener) readLoop(conn net.Conn) {
	defer l.wg.Done()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if !IsTokenPayload(line) {
			// Other traffic on the link (acknowledgements, future message
			// types) is ignored rather than treated as a protocol error.
			continue
		}

		payload, err := DecodeTokenPayload(line)
		if err != nil {
			l.mu.Lock()
			l.decodeErrors++
			l.mu.Unlock()

			l.logger.Warn("Dropping malformed token payload",
				slog.String("remote_addr", conn.RemoteAddr().String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		l.mu.Lock()
		l.payloadsReceived++
		l.mu.Unlock()

		l.logger.Debug("Token payload received",
			slog.Time("issued_at", payload.IssuedAt()),
		)

		l.sink.HandleTokenPayload(payload.FirebaseToken, payload.IssuedAt())
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-l.ctx.Done():
		default:
			l.logger.Warn("Pairing connection read error",
				slog.String("remote_addr", conn.RemoteAddr().String()),
				slog.String("error", err.Error()),
			)
		}
	}

	// Drop the connection reference only if it is still the active one.
	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
		l.logger.Info("Primary device disconnected",
			slog.String("remote_addr", conn.RemoteAddr().String()),
		)
	}
	l.mu.Unlock()

	conn.Close()
}
