// Package notify defines the operator notification boundary.
//
// The data layer emits fire-and-forget notifications (success, error,
// info) and never consumes them. Notifier is what components depend on;
// Publisher is what downstream transports implement. A Dispatcher bridges
// the two without blocking the caller.
package notify

import (
	"context"
	"sync"
	"time"
)

// Level is the severity of a notification.
type Level string

// Notification levels.
const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Notification is one operator-facing message.
type Notification struct {
	Level     Level  `json:"level"`
	Message   string `json:"message"`
	Op        string `json:"op,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Timestamp string `json:"timestamp"` // RFC 3339
}

// New builds a notification stamped with the current time.
func New(level Level, op, message string) Notification {
	return Notification{
		Level:     level,
		Message:   message,
		Op:        op,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Notifier receives notifications. Notify must not block on I/O.
type Notifier interface {
	Notify(n Notification)
}

// Publisher delivers notifications to a downstream system.
type Publisher interface {
	// Publish sends one notification.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, n *Notification) error

	// Close releases publisher resources.
	Close() error
}

// Func adapts a function to Notifier.
type Func func(Notification)

// Notify calls f(n).
func (f Func) Notify(n Notification) { f(n) }

// Nop discards every notification.
var Nop Notifier = Func(func(Notification) {})

// Fanout delivers each notification to every notifier in order.
type Fanout []Notifier

// Notify implements Notifier.
func (f Fanout) Notify(n Notification) {
	for _, target := range f {
		if target != nil {
			target.Notify(n)
		}
	}
}

// Recorder keeps every notification in memory.
// Used by the CLI to summarize a command and by tests.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// Notify implements Notifier.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// Count returns how many notifications of level were recorded.
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.items {
		if item.Level == level {
			n++
		}
	}
	return n
}

// Messages returns the messages recorded at level, in order.
func (r *Recorder) Messages(level Level) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, item := range r.items {
		if item.Level == level {
			out = append(out, item.Message)
		}
	}
	return out
}
