package types

// Version is the canonical project version.
// The CLI, the wire codec and the local store envelope share this version.
const Version = "0.3.0"

// LocalFormatVersion tags envelopes written to the durable local store.
// Bump when the envelope layout changes incompatibly.
const LocalFormatVersion = 1
