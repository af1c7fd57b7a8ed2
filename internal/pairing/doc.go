// Package pairing implements the message link between the companion device
// and the primary device: the wire codec for token requests and token
// payloads, and a line-delimited JSON transport the primary device connects to.
package pairing
