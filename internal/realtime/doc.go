// Package realtime maintains the bidirectional streaming session used for
// low-latency conversational interaction with the backend. A session stays
// open across multiple turns; each turn ends with exactly one terminal
// inbound message, at which point the accumulated text and audio deltas are
// drained into a TurnResult.
package realtime
