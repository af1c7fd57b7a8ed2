package credential

import "time"

// TTL is the validity window of a relayed credential. It is deliberately
// shorter than the backend's own ~60-minute token lifetime so the companion
// never presents a token the backend is about to reject.
const TTL = 55 * time.Minute

// Credential is an opaque bearer token plus its issuance timestamp. The zero
// value is never valid.
type Credential struct {
	Token    string
	IssuedAt time.Time
}

// Age returns how long ago the credential was issued.
func (c Credential) Age(now time.Time) time.Duration {
	return now.Sub(c.IssuedAt)
}

// Valid reports whether the credential can still be presented to the backend.
func (c Credential) Valid(now time.Time) bool {
	return c.Token != "" && c.Age(now) < TTL
}
