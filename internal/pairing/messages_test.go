package pairing

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestEncodeTokenRequest(t *testing.T) {
	data, err := EncodeTokenRequest()
	if err != nil {
		t.Fatalf("EncodeTokenRequest failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Encoded request is not valid JSON: %v", err)
	}

	if decoded["requestToken"] != true {
		t.Errorf("Expected requestToken=true, got %v", decoded["requestToken"])
	}
}

func TestDecodeTokenRequest(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{
			name: "valid request",
			data: `{"requestToken": true}`,
		},
		{
			name:    "requestToken false",
			data:    `{"requestToken": false}`,
			wantErr: true,
		},
		{
			name:    "missing field",
			data:    `{}`,
			wantErr: true,
		},
		{
			name:    "invalid JSON",
			data:    `{requestToken`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTokenRequest([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeTokenRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeTokenPayload(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantErr   bool
		wantToken string
	}{
		{
			name:      "valid payload",
			data:      `{"firebaseToken": "abc123", "tokenTimestamp": 1700000000.5}`,
			wantToken: "abc123",
		},
		{
			name:    "empty token",
			data:    `{"firebaseToken": "", "tokenTimestamp": 1700000000}`,
			wantErr: true,
		},
		{
			name:    "missing timestamp",
			data:    `{"firebaseToken": "abc123"}`,
			wantErr: true,
		},
		{
			name:    "negative timestamp",
			data:    `{"firebaseToken": "abc123", "tokenTimestamp": -5}`,
			wantErr: true,
		},
		{
			name:    "invalid JSON",
			data:    `not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := DecodeTokenPayload([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeTokenPayload() error = %v, wantErr %v", err, tt.wantErr)
			}

			if err == nil && payload.FirebaseToken != tt.wantToken {
				t.Errorf("Expected token %q, got %q", tt.wantToken, payload.FirebaseToken)
			}
		})
	}
}

func TestTokenPayloadIssuedAt(t *testing.T) {
	payload := &TokenPayload{
		FirebaseToken:  "abc",
		TokenTimestamp: 1700000000.25,
	}

	issuedAt := payload.IssuedAt()

	if issuedAt.Unix() != 1700000000 {
		t.Errorf("Expected unix seconds 1700000000, got %d", issuedAt.Unix())
	}

	fraction := float64(issuedAt.Nanosecond()) / float64(time.Second)
	if math.Abs(fraction-0.25) > 0.001 {
		t.Errorf("Expected fractional part 0.25, got %f", fraction)
	}
}

func TestEncodeTokenPayloadRoundTrip(t *testing.T) {
	issuedAt := time.Unix(1700000123, 500000000)

	data, err := EncodeTokenPayload("tok-1", issuedAt)
	if err != nil {
		t.Fatalf("EncodeTokenPayload failed: %v", err)
	}

	payload, err := DecodeTokenPayload(data)
	if err != nil {
		t.Fatalf("DecodeTokenPayload failed: %v", err)
	}

	if payload.FirebaseToken != "tok-1" {
		t.Errorf("Expected token tok-1, got %q", payload.FirebaseToken)
	}

	if diff := payload.IssuedAt().Sub(issuedAt); diff > time.Millisecond || diff < -time.Millisecond {
		t.Errorf("Round-trip issued-at drifted by %v", diff)
	}
}

func TestEncodeTokenPayloadEmptyToken(t *testing.T) {
	if _, err := EncodeTokenPayload("", time.Now()); err == nil {
		t.Error("Expected error for empty token")
	}
}

func TestIsTokenPayload(t *testing.T) {
	if !IsTokenPayload([]byte(`{"firebaseToken": "x", "tokenTimestamp": 1}`)) {
		t.Error("Expected token payload to be recognized")
	}

	if IsTokenPayload([]byte(`{"requestToken": true}`)) {
		t.Error("Token request should not be recognized as payload")
	}

	if IsTokenPayload([]byte(`garbage`)) {
		t.Error("Garbage should not be recognized as payload")
	}
}
