// Package capture drives the push-to-talk recording lifecycle on the
// companion device: one capture session at a time, a bounded waveform
// feedback buffer, a hard safety ceiling on recording length, and guaranteed
// cleanup of the transient audio artifact on every exit path.
package capture
