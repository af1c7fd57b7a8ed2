package pairing

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu       sync.Mutex
	tokens   []string
	notified chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notified: make(chan struct{}, 16)}
}

func (s *recordingSink) HandleTokenPayload(token string, issuedAt time.Time) {
	s.mu.Lock()
	s.tokens = append(s.tokens, token)
	s.mu.Unlock()
	s.notified <- struct{}{}
}

func (s *recordingSink) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

func startListener(t *testing.T, sink Sink) *Listener {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := NewListener("127.0.0.1:0", logger, sink)
	if err := l.Start(); err != nil {
		t.Fatalf("Failed to start listener: %v", err)
	}
	t.Cleanup(func() { l.Stop() })

	return l
}

func TestRequestTokenWithoutConnection(t *testing.T) {
	l := startListener(t, newRecordingSink())

	err := l.RequestToken(context.Background())
	if err == nil {
		t.Fatal("Expected error when no primary device is connected")
	}
}

func TestTokenRequestReachesPrimary(t *testing.T) {
	sink := newRecordingSink()
	l := startListener(t, sink)

	conn, err := net.Dial("tcp", l.Addr())
	if err != nil {
		t.Fatalf("Failed to dial listener: %v", err)
	}
	defer conn.Close()

	// Give the accept loop a moment to register the connection
	deadline := time.Now().Add(2 * time.Second)
	for !l.GetStatistics().Connected {
		if time.Now().After(deadline) {
			t.Fatal("Listener never registered the connection")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := l.RequestToken(context.Background()); err != nil {
		t.Fatalf("RequestToken failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("Failed to read request: %v", err)
	}

	var req TokenRequest
	if err := json.Unmarshal(line, &req); err != nil {
		t.Fatalf("Request is not valid JSON: %v", err)
	}
	if !req.RequestToken {
		t.Error("Expected requestToken to be set")
	}
}

func TestPayloadDispatchedToSink(t *testing.T) {
	sink := newRecordingSink()
	l := startListener(t, sink)

	conn, err := net.Dial("tcp", l.Addr())
	if err != nil {
		t.Fatalf("Failed to dial listener: %v", err)
	}
	defer conn.Close()

	payload, err := EncodeTokenPayload("tok-abc", time.Now())
	if err != nil {
		t.Fatalf("EncodeTokenPayload failed: %v", err)
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		t.Fatalf("Failed to write payload: %v", err)
	}

	select {
	case <-sink.notified:
	case <-time.After(2 * time.Second):
		t.Fatal("Sink never received the payload")
	}

	tokens := sink.received()
	if len(tokens) != 1 || tokens[0] != "tok-abc" {
		t.Errorf("Expected [tok-abc], got %v", tokens)
	}
}

func TestMalformedLineCountedAndDropped(t *testing.T) {
	sink := newRecordingSink()
	l := startListener(t, sink)

	conn, err := net.Dial("tcp", l.Addr())
	if err != nil {
		t.Fatalf("Failed to dial listener: %v", err)
	}
	defer conn.Close()

	// A payload-shaped line with an empty token fails decode
	conn.Write([]byte(`{"firebaseToken": "", "tokenTimestamp": 1}` + "\n"))

	// A valid payload after the bad one still gets through
	payload, _ := EncodeTokenPayload("tok-after", time.Now())
	conn.Write(append(payload, '\n'))

	select {
	case <-sink.notified:
	case <-time.After(2 * time.Second):
		t.Fatal("Sink never received the valid payload")
	}

	stats := l.GetStatistics()
	if stats.DecodeErrors != 1 {
		t.Errorf("Expected 1 decode error, got %d", stats.DecodeErrors)
	}
	if stats.PayloadsReceived != 1 {
		t.Errorf("Expected 1 payload received, got %d", stats.PayloadsReceived)
	}
}

func TestNewConnectionReplacesOld(t *testing.T) {
	sink := newRecordingSink()
	l := startListener(t, sink)

	first, err := net.Dial("tcp", l.Addr())
	if err != nil {
		t.Fatalf("Failed to dial listener: %v", err)
	}
	defer first.Close()

	second, err := net.Dial("tcp", l.Addr())
	if err != nil {
		t.Fatalf("Failed to dial listener: %v", err)
	}
	defer second.Close()

	// The newest connection wins: the first one gets closed by the listener
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := first.Read(make([]byte, 1)); err == nil {
		t.Error("Expected the first connection to be closed")
	}

	// Payloads over the second connection still reach the sink
	payload, _ := EncodeTokenPayload("tok-second", time.Now())
	if _, err := second.Write(append(payload, '\n')); err != nil {
		t.Fatalf("Failed to write on second connection: %v", err)
	}

	select {
	case <-sink.notified:
	case <-time.After(2 * time.Second):
		t.Fatal("Sink never received the payload from the new connection")
	}
}
