// Package failure classifies remote-store errors.
//
// Every error returned by a remote call maps to exactly one Kind. The
// retry executor consults the Kind to decide whether to wait and try
// again. Callers use errors.Is with the sentinels below, or errors.As
// with *Error, for typed assertions rather than string matching.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind is the retry class of a failure.
type Kind int

// Failure kinds. The zero value is Fatal so that an unclassified error
// is never retried.
const (
	// Fatal failures are returned immediately.
	Fatal Kind = iota
	// Permission failures mean the caller lacks authorization. They are
	// retried because access rules may still be propagating.
	Permission
	// Transient failures cover network, availability, timeout,
	// resource-exhaustion and cancellation errors.
	Transient
)

func (k Kind) String() string {
	switch k {
	case Permission:
		return "permission"
	case Transient:
		return "transient"
	default:
		return "fatal"
	}
}

// Retryable reports whether failures of this kind may be retried.
func (k Kind) Retryable() bool {
	return k == Permission || k == Transient
}

// Sentinel errors for classification.
var (
	// ErrPermission indicates an authorization failure.
	ErrPermission = errors.New("permission denied")
	// ErrTransient indicates a retryable availability failure.
	ErrTransient = errors.New("temporarily unavailable")
	// ErrFatal indicates a non-retryable failure.
	ErrFatal = errors.New("request failed")
)

// Sentinel returns the sentinel error for k.
func (k Kind) Sentinel() error {
	switch k {
	case Permission:
		return ErrPermission
	case Transient:
		return ErrTransient
	default:
		return ErrFatal
	}
}

// Error wraps the last error of a remote operation with its class.
// It preserves the original error in the chain for errors.As.
type Error struct {
	// Kind is the classification of Err.
	Kind Kind
	// Op is the operation label (e.g. "list clients").
	Op string
	// Attempts is how many times the operation ran.
	Attempts int
	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s: %v after %d attempts: %v", e.Op, e.Kind.Sentinel(), e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind.Sentinel(), e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind.Sentinel(), target)
}

// Wrap classifies err and wraps it. Returns nil if err is nil.
func Wrap(err error, op string, attempts int) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Classify(err), Op: op, Attempts: attempts, Err: err}
}

// Codes that mark an authorization failure.
var permissionCodes = []string{
	"permission-denied",
	"PERMISSION_DENIED",
	"insufficient-permissions",
}

// Codes that mark a retryable failure.
var transientCodes = []string{
	"unavailable",
	"deadline-exceeded",
	"resource-exhausted",
	"aborted",
	"cancelled",
	"network-request-failed",
	"timeout",
}

// Classify maps err to a Kind. It is total: nil and unrecognized errors
// are Fatal. Permission is checked before Transient, so an error whose
// message mentions both is treated as an authorization failure.
func Classify(err error) Kind {
	if err == nil {
		return Fatal
	}

	// Already classified
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	switch {
	case errors.Is(err, ErrPermission):
		return Permission
	case errors.Is(err, ErrTransient):
		return Transient
	case errors.Is(err, ErrFatal):
		return Fatal
	}

	// Backend code tag
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		code := coded.ErrorCode()
		if matchesAny(code, permissionCodes) {
			return Permission
		}
		if matchesAny(code, transientCodes) {
			return Transient
		}
	}

	// Typed status from the transport
	var status interface{ HTTPStatus() int }
	if errors.As(err, &status) {
		if kind, ok := classifyStatus(status.HTTPStatus()); ok {
			return kind
		}
	}

	msg := err.Error()
	if matchesAny(msg, permissionCodes) || containsFold(msg, "permission") {
		return Permission
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return Transient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Transient
	}

	if matchesAny(msg, transientCodes) ||
		matchesAny(msg, []string{"connection refused", "connection reset", "no route to host",
			"network unreachable", "i/o timeout", "timed out", "deadline exceeded", "EOF"}) {
		return Transient
	}

	return Fatal
}

// classifyStatus maps an HTTP status to a Kind. ok is false for
// statuses that carry no class of their own.
func classifyStatus(code int) (Kind, bool) {
	switch {
	case code == 401 || code == 403:
		return Permission, true
	case code == 408 || code == 429 || code == 499:
		return Transient, true
	case code == 409:
		// Aborted transaction
		return Transient, true
	case code >= 500 && code != 501:
		return Transient, true
	case code >= 400:
		return Fatal, true
	default:
		return Fatal, false
	}
}

func matchesAny(s string, subs []string) bool {
	for _, sub := range subs {
		if containsFold(s, sub) {
			return true
		}
	}
	return false
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
