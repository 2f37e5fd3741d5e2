// Package connstate tracks connectivity to the remote store.
//
// The Tracker holds consecutive permission failures and online status for
// one session. The retry executor mutates it; the UI reads Snapshot to
// render connectivity banners. All methods are nil-receiver safe.
package connstate

import (
	"sync"
	"time"
)

// Status strings derived from IsOnline.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// State is an immutable point-in-time view of the tracker.
type State struct {
	IsOnline              bool       `json:"is_online"`
	PermissionDeniedCount int        `json:"permission_denied_count"`
	LastPermissionCheck   *time.Time `json:"last_permission_check,omitempty"`
	HasPermissionIssues   bool       `json:"has_permission_issues"`
	Status                string     `json:"status"`
}

// Tracker accumulates connection state for one session.
// Thread-safe via sync.Mutex.
type Tracker struct {
	mu sync.Mutex

	isOnline              bool
	permissionDeniedCount int
	lastPermissionCheck   time.Time
}

// NewTracker returns a tracker that starts online with no failures.
func NewTracker() *Tracker {
	return &Tracker{isOnline: true}
}

// RecordPermissionDenied counts one permission failure observed at now
// and returns the new count.
func (t *Tracker) RecordPermissionDenied(now time.Time) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.permissionDeniedCount++
	t.lastPermissionCheck = now
	return t.permissionDeniedCount
}

// RecordSuccess clears the permission failure count. It reports whether
// the count was non-zero, meaning the connection has just been restored.
func (t *Tracker) RecordSuccess() (restored bool) {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	restored = t.permissionDeniedCount > 0
	t.permissionDeniedCount = 0
	t.isOnline = true
	return restored
}

// SetOnline records reachability of the remote store.
func (t *Tracker) SetOnline(online bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.isOnline = online
	t.mu.Unlock()
}

// Reset clears the permission failure count and the last check time.
// Online status is untouched.
func (t *Tracker) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.permissionDeniedCount = 0
	t.lastPermissionCheck = time.Time{}
	t.mu.Unlock()
}

// PermissionDeniedCount returns the current consecutive failure count.
func (t *Tracker) PermissionDeniedCount() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.permissionDeniedCount
}

// Snapshot returns the current state with derived fields filled in.
func (t *Tracker) Snapshot() State {
	if t == nil {
		return State{IsOnline: true, Status: StatusOnline}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s := State{
		IsOnline:              t.isOnline,
		PermissionDeniedCount: t.permissionDeniedCount,
		HasPermissionIssues:   t.permissionDeniedCount > 0,
		Status:                StatusOffline,
	}
	if t.isOnline {
		s.Status = StatusOnline
	}
	if !t.lastPermissionCheck.IsZero() {
		last := t.lastPermissionCheck
		s.LastPermissionCheck = &last
	}
	return s
}
