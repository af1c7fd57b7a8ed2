package realtime

import (
	"encoding/json"
	"fmt"
)

// Outbound message types.
const (
	TypeAudioChunk = "audio_chunk"
	TypeAudioDone  = "audio_done"
	TypeCancel     = "cancel"
)

// Inbound message types.
const (
	TypeInputTranscript    = "input_transcript"
	TypeResponseTextDelta  = "response_text_delta"
	TypeResponseAudioDelta = "response_audio_delta"
	TypeResponseDone       = "response_done"
	TypeError              = "error"
)

// Session modes accepted by the streaming endpoint.
const (
	ModeVoice = "voice"
	ModeText  = "text"
)

// Message is the JSON envelope exchanged over the streaming channel in both
// directions. Fields beyond Type are populated per message type.
type Message struct {
	Type         string          `json:"type"`
	Data         string          `json:"data,omitempty"`
	Text         string          `json:"text,omitempty"`
	Message      string          `json:"message,omitempty"`
	ExpenseSaved json.RawMessage `json:"expense_saved,omitempty"`
}

// ExpenseResult is the structured outcome of a turn that produced a saved
// expense record.
type ExpenseResult struct {
	ID        string  `json:"id"`
	Amount    float64 `json:"amount"`
	Category  string  `json:"category"`
	Narrative string  `json:"narrative,omitempty"`
}

// Outcome classifies how a turn ended.
type Outcome string

const (
	// OutcomeExpense means the backend confirmed a saved expense record.
	OutcomeExpense Outcome = "expense"
	// OutcomeText means the turn produced a free-text answer only.
	OutcomeText Outcome = "text"
	// OutcomeError means the turn (or the transport) failed.
	OutcomeError Outcome = "error"
)

// TurnResult carries the drained accumulators and the terminal signal of one
// completed turn.
type TurnResult struct {
	Outcome Outcome        `json:"outcome"`
	Expense *ExpenseResult `json:"expense,omitempty"`
	Text    string         `json:"text,omitempty"`
	// Audio is a playable container synthesized from the drained raw
	// samples, or nil when the turn produced no audio.
	Audio []byte `json:"audio,omitempty"`
	Err   string `json:"error,omitempty"`
}

// decodeMessage parses a raw inbound frame. A missing type field is an error
// so the caller can drop the frame.
func decodeMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message has no type field")
	}
	return &msg, nil
}

// decodeExpense parses the expense_saved payload of a response_done message.
func decodeExpense(raw json.RawMessage) (*ExpenseResult, error) {
	var result ExpenseResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode expense result: %w", err)
	}
	return &result, nil
}
