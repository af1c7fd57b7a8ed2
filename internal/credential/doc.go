// Package credential maintains the short-lived bearer credential on the
// companion device. The companion has no sign-in UI of its own: credentials
// are relayed from the paired primary device, cached with a TTL, and
// persisted so a relaunch within the TTL needs no re-solicitation.
package credential
