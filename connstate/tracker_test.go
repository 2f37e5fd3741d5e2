package connstate

import (
	"sync"
	"testing"
	"time"
)

func TestTracker_InitialState(t *testing.T) {
	s := NewTracker().Snapshot()
	if !s.IsOnline || s.Status != StatusOnline {
		t.Errorf("new tracker should be online, got %+v", s)
	}
	if s.PermissionDeniedCount != 0 || s.HasPermissionIssues || s.LastPermissionCheck != nil {
		t.Errorf("new tracker should have no permission issues, got %+v", s)
	}
}

func TestTracker_PermissionThenSuccess(t *testing.T) {
	tr := NewTracker()
	now := time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)

	if n := tr.RecordPermissionDenied(now); n != 1 {
		t.Errorf("first denial count = %d, want 1", n)
	}
	if n := tr.RecordPermissionDenied(now.Add(time.Second)); n != 2 {
		t.Errorf("second denial count = %d, want 2", n)
	}

	s := tr.Snapshot()
	if !s.HasPermissionIssues || s.PermissionDeniedCount != 2 {
		t.Errorf("snapshot = %+v, want 2 denials", s)
	}
	if s.LastPermissionCheck == nil || !s.LastPermissionCheck.Equal(now.Add(time.Second)) {
		t.Errorf("last check = %v, want %v", s.LastPermissionCheck, now.Add(time.Second))
	}

	if !tr.RecordSuccess() {
		t.Error("RecordSuccess after denials should report restored")
	}
	if tr.RecordSuccess() {
		t.Error("second RecordSuccess should not report restored")
	}
	if tr.PermissionDeniedCount() != 0 {
		t.Errorf("count after success = %d", tr.PermissionDeniedCount())
	}
}

func TestTracker_ResetClearsLastCheck(t *testing.T) {
	tr := NewTracker()
	tr.RecordPermissionDenied(time.Now())
	tr.SetOnline(false)

	tr.Reset()

	s := tr.Snapshot()
	if s.PermissionDeniedCount != 0 || s.LastPermissionCheck != nil {
		t.Errorf("reset did not clear permission state: %+v", s)
	}
	if s.IsOnline || s.Status != StatusOffline {
		t.Errorf("reset should not touch online status: %+v", s)
	}
}

func TestTracker_NilSafe(t *testing.T) {
	var tr *Tracker
	tr.RecordPermissionDenied(time.Now())
	tr.SetOnline(false)
	tr.Reset()
	if tr.RecordSuccess() {
		t.Error("nil tracker reported restored")
	}
	if s := tr.Snapshot(); s.Status != StatusOnline {
		t.Errorf("nil snapshot = %+v", s)
	}
}

func TestTracker_ConcurrentDenials(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordPermissionDenied(time.Now())
		}()
	}
	wg.Wait()
	if got := tr.PermissionDeniedCount(); got != 50 {
		t.Errorf("count = %d, want 50", got)
	}
}
