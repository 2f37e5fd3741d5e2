// Package retry runs remote-store operations with bounded exponential
// backoff.
//
// The Executor classifies every failure with the failure package and
// keeps the session's connection tracker current:
//   - Permission: counted on the tracker, one notification per call, retried
//   - Transient: retried
//   - Fatal: returned on the spot with no state change
//
// Backoff waits honor context cancellation and suspend only the calling
// goroutine.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/despacho/connstate"
	"github.com/pithecene-io/despacho/failure"
	"github.com/pithecene-io/despacho/log"
	"github.com/pithecene-io/despacho/metrics"
	"github.com/pithecene-io/despacho/notify"
)

// Default policy values.
const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 5 * time.Second
	DefaultMultiplier   = 2.0
)

// Notification messages.
const (
	MsgPermissionRetry    = "Permission error. Checking access rules..."
	MsgConnectionRestored = "Connection restored"
)

// Policy bounds the retry loop. It is immutable once an Executor holds it.
type Policy struct {
	// MaxAttempts is the total number of attempts, first one included.
	MaxAttempts int
	// InitialDelay is the wait after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps every wait.
	MaxDelay time.Duration
	// Multiplier grows the wait between consecutive attempts.
	Multiplier float64
}

// DefaultPolicy returns 3 attempts, 1s initial delay, 5s cap, factor 2.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
	}
}

// Validate checks that the policy can drive a retry loop.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("initial delay must be >= 0, got %s", p.InitialDelay)
	}
	if p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("max delay %s is below initial delay %s", p.MaxDelay, p.InitialDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %g", p.Multiplier)
	}
	return nil
}

// Delay returns the wait after the 0-indexed attempt i:
// min(InitialDelay * Multiplier^i, MaxDelay).
func (p Policy) Delay(i int) time.Duration {
	d := float64(p.InitialDelay)
	for range i {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Executor runs operations under a Policy.
// Safe for concurrent use; all mutable state lives in the tracker.
type Executor struct {
	policy   Policy
	tracker  *connstate.Tracker
	notifier notify.Notifier
	logger   *log.Logger
	metrics  *metrics.Collector
	sleep    SleepFunc
	now      func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithNotifier sets the operator notification sink.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Executor) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Executor) { e.logger = l.With("retry") }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithSleep replaces the backoff wait. Tests use it to observe delays.
func WithSleep(s SleepFunc) Option {
	return func(e *Executor) {
		if s != nil {
			e.sleep = s
		}
	}
}

// WithClock replaces the clock used for lastPermissionCheck.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an executor. tracker may be nil.
func New(policy Policy, tracker *connstate.Tracker, opts ...Option) (*Executor, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	e := &Executor{
		policy:   policy,
		tracker:  tracker,
		notifier: notify.Nop,
		sleep:    Sleep,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Tracker returns the connection tracker the executor updates.
func (e *Executor) Tracker() *connstate.Tracker {
	return e.tracker
}

// Run executes op until it succeeds, fails fatally or runs out of
// attempts. Failures are returned as *failure.Error carrying the last
// observed error.
func (e *Executor) Run(ctx context.Context, label string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, e, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do executes op under e and returns its value.
func Do[T any](ctx context.Context, e *Executor, label string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	var lastKind failure.Kind

	for attempt := range e.policy.MaxAttempts {
		v, err := op(ctx)
		if err == nil {
			e.succeeded(label)
			return v, nil
		}
		lastErr = err
		lastKind = failure.Classify(err)

		switch lastKind {
		case failure.Permission:
			count := e.tracker.RecordPermissionDenied(e.now())
			e.logger.Warn("permission denied", map[string]any{
				"op":      label,
				"attempt": attempt + 1,
				"of":      e.policy.MaxAttempts,
				"count":   count,
				"error":   err.Error(),
			})
			if attempt == 0 {
				e.notifier.Notify(notify.New(notify.LevelError, label, MsgPermissionRetry))
			}
		case failure.Transient:
			e.logger.Warn("temporary failure", map[string]any{
				"op":      label,
				"attempt": attempt + 1,
				"of":      e.policy.MaxAttempts,
				"error":   err.Error(),
			})
		default:
			e.logger.Error("unrecoverable failure", map[string]any{
				"op":    label,
				"error": err.Error(),
			})
			e.metrics.IncOpFailed()
			return zero, &failure.Error{Kind: lastKind, Op: label, Attempts: attempt + 1, Err: err}
		}

		if attempt == e.policy.MaxAttempts-1 {
			break
		}

		e.metrics.IncRetry(lastKind.String())
		if serr := e.sleep(ctx, e.policy.Delay(attempt)); serr != nil {
			e.metrics.IncOpFailed()
			return zero, &failure.Error{
				Kind:     lastKind,
				Op:       label,
				Attempts: attempt + 1,
				Err:      errors.Join(err, serr),
			}
		}
	}

	e.logger.Error("retries exhausted", map[string]any{
		"op":       label,
		"attempts": e.policy.MaxAttempts,
		"error":    lastErr.Error(),
	})
	e.metrics.IncOpFailed()
	return zero, &failure.Error{Kind: lastKind, Op: label, Attempts: e.policy.MaxAttempts, Err: lastErr}
}

func (e *Executor) succeeded(label string) {
	e.metrics.IncOpSucceeded()
	if e.tracker.RecordSuccess() {
		e.logger.Info("connection restored", map[string]any{"op": label})
		e.notifier.Notify(notify.New(notify.LevelSuccess, label, MsgConnectionRestored))
	}
}
