package types

// SessionMeta identifies one application session.
// Every log line and notification emitted by the data layer carries it.
type SessionMeta struct {
	// SessionID is unique per process start.
	SessionID string
	// Backend names the remote store the session talks to (e.g. "http", "memory").
	Backend string
	// Operator is the signed-in operator, when known.
	Operator *string
}
