// Package server implements the local HTTP API used to drive capture and
// realtime sessions and to expose monitoring endpoints.
package server
