// Package wav synthesizes and inspects canonical RIFF/WAVE containers
// around raw little-endian PCM-16 sample data.
package wav
