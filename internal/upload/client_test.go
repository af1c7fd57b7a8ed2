package upload

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessMultipartFields(t *testing.T) {
	var gotAuth string
	var gotText, gotConversationID string
	var gotAudioName string
	var gotAudio []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, ProcessPath, r.URL.Path)

		gotAuth = r.Header.Get("Authorization")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotText = r.FormValue("text")
		gotConversationID = r.FormValue("conversation_id")

		file, header, err := r.FormFile("audio")
		require.NoError(t, err)
		defer file.Close()
		gotAudioName = header.Filename
		gotAudio, err = io.ReadAll(file)
		require.NoError(t, err)

		json.NewEncoder(w).Encode(Response{ExpenseID: "exp-42", Message: "Recorded $12.50 for lunch"})
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, Timeout: 5 * time.Second}, nil)
	require.NoError(t, err)

	resp, err := client.Process(context.Background(), "tok-abc", &Request{
		Text:           "lunch",
		Audio:          []byte{0x01, 0x02, 0x03},
		ConversationID: "conv-7",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-abc", gotAuth)
	assert.Equal(t, "lunch", gotText)
	assert.Equal(t, "conv-7", gotConversationID)
	assert.Equal(t, AudioFilename, gotAudioName)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, gotAudio)

	assert.Equal(t, "exp-42", resp.ExpenseID)
	assert.Equal(t, "Recorded $12.50 for lunch", resp.Message)
}

func TestProcessServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "category not found", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	_, err = client.Process(context.Background(), "tok", &Request{Text: "coffee"})
	require.Error(t, err)
	// Server-reported errors are surfaced verbatim.
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "category not found")

	stats := client.GetStats()
	assert.Equal(t, uint64(1), stats.TotalRequests)
	assert.Equal(t, uint64(1), stats.FailedRequests)
}

func TestProcessNoRetry(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	_, err = client.Process(context.Background(), "tok", &Request{Text: "coffee"})
	require.Error(t, err)
	assert.Equal(t, 1, hits, "failed uploads must not be retried internally")
}

func TestProcessEmptyRequest(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://localhost:1"}, nil)
	require.NoError(t, err)

	_, err = client.Process(context.Background(), "tok", &Request{})
	require.Error(t, err)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	require.Error(t, err)
}

func TestProcessTextOnlyOmitsFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))

		_, _, err := r.FormFile("audio")
		assert.Error(t, err, "text-only request should not carry an audio part")

		json.NewEncoder(w).Encode(Response{Message: "noted"})
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	resp, err := client.Process(context.Background(), "tok", &Request{Text: "groceries 30"})
	require.NoError(t, err)
	assert.Empty(t, resp.ExpenseID)
	assert.Equal(t, "noted", resp.Message)
}
