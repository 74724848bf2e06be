package zinc

import "fmt"

// ============================================================================
// Error Taxonomy
// ============================================================================
//
// AuthError    — bad credentials or an expired/rejected token; surfaced, never
//                retried.
// NetworkError — transport-level failure; surfaced once, not auto-retried
//                (the channel's bounded reconnection is the one exception).
// ValidationError — a precondition failed locally; the operation was never
//                attempted.
//
// Mark-as-read failures are best-effort and intentionally have no type: they
// are swallowed at the call site.

// AuthError indicates the server rejected the caller's credentials or token.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "authentication failed"
	}
	return "auth: " + e.Message
}

// NetworkError wraps a transport failure reaching the API or channel.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError indicates a required input was missing; nothing was sent.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "validation: " + e.Message }

// ErrNoActiveConversation is returned by SendMessage when no conversation is
// selected.
var ErrNoActiveConversation = &ValidationError{Message: "no active conversation selected"}
