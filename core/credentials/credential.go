// Package credentials obtains and refreshes the short-lived credentials
// that authorize one realtime voice-ordering session.
//
// The remote peer's behavior is fixed at credential mint time: instructions,
// tool schemas, and menu vocabulary must all travel in the mint request.
// Configuration sent over the open channel afterwards is not honored by the
// remote peer, so no such path exists in this engine.
package credentials

import (
	"fmt"
	"time"
)

// Credential is one short-lived session secret.
type Credential struct {
	// Secret authorizes exactly one channel open. A credential must never
	// be reused for a second concurrent channel.
	Secret string
	// ExpiresAt is the absolute expiry instant.
	ExpiresAt time.Time
	// ContextFingerprint identifies which instructions/menu were baked in
	// at mint time, for cache and reuse decisions.
	ContextFingerprint string
}

// TTL returns the remaining lifetime relative to now.
func (c Credential) TTL(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

// FetchError reports a failed mint attempt against the issuer.
type FetchError struct {
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("credential issuer rejected mint request (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("credential issuer unreachable: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
