package pairing

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// TokenRequest is sent from the companion to the primary device to solicit
// a fresh credential.
// Wire format: {"requestToken": true}
type TokenRequest struct {
	RequestToken bool `json:"requestToken"`
}

// TokenPayload carries a credential from the primary device, either as a
// direct reply to a TokenRequest or as an unsolicited background push.
// Wire format: {"firebaseToken": <string>, "tokenTimestamp": <unix-seconds float>}
type TokenPayload struct {
	FirebaseToken  string  `json:"firebaseToken"`
	TokenTimestamp float64 `json:"tokenTimestamp"`
}

// IssuedAt converts the unix-seconds timestamp to a time.Time.
func (p *TokenPayload) IssuedAt() time.Time {
	sec, frac := math.Modf(p.TokenTimestamp)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// EncodeTokenRequest serializes a token request for the wire.
func EncodeTokenRequest() ([]byte, error) {
	data, err := json.Marshal(TokenRequest{RequestToken: true})
	if err != nil {
		return nil, fmt.Errorf("failed to encode token request: %w", err)
	}
	return data, nil
}

// DecodeTokenRequest parses a token request from the wire. A payload that
// parses but does not set requestToken is rejected.
func DecodeTokenRequest(data []byte) (*TokenRequest, error) {
	var req TokenRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode token request: %w", err)
	}

	if !req.RequestToken {
		return nil, fmt.Errorf("invalid token request: requestToken not set")
	}

	return &req, nil
}

// DecodeTokenPayload parses a token payload from the wire.
func DecodeTokenPayload(data []byte) (*TokenPayload, error) {
	var payload TokenPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode token payload: %w", err)
	}

	if payload.FirebaseToken == "" {
		return nil, fmt.Errorf("invalid token payload: firebaseToken is empty")
	}

	if payload.TokenTimestamp <= 0 {
		return nil, fmt.Errorf("invalid token payload: tokenTimestamp must be positive, got %f", payload.TokenTimestamp)
	}

	return &payload, nil
}

// EncodeTokenPayload serializes a token payload for the wire.
func EncodeTokenPayload(token string, issuedAt time.Time) ([]byte, error) {
	if token == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}

	payload := TokenPayload{
		FirebaseToken:  token,
		TokenTimestamp: float64(issuedAt.UnixNano()) / float64(time.Second),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token payload: %w", err)
	}

	return data, nil
}

// IsTokenPayload reports whether a raw message looks like a token payload
// rather than some other traffic on the link.
func IsTokenPayload(data []byte) bool {
	var probe struct {
		FirebaseToken *string `json:"firebaseToken"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.FirebaseToken != nil
}
