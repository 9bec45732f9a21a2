package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"rotomod/host/link"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	// A nested path exercises directory creation.
	path := filepath.Join(t.TempDir(), "rotomod", "sessions.db")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		if err := a.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return a
}

func TestSaveAndListSessions(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	entries := []link.LogEntry{
		{Position: 1, Time: 100},
		{Position: 2, Time: 240},
		{Position: -3, Time: 410},
	}
	id, err := a.SaveSession(ctx, Session{
		Device:    "/dev/ttyACM0",
		WrapPoint: 512,
		Unipolar:  false,
	}, entries)
	if err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if id == 0 {
		t.Fatal("Expected a nonzero session id")
	}

	sessions, err := a.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}
	s := sessions[0]
	if s.ID != id || s.Device != "/dev/ttyACM0" || s.Records != 3 || s.WrapPoint != 512 || s.Unipolar {
		t.Errorf("Session fields wrong: %+v", s)
	}
	if time.Since(s.PulledAt) > time.Minute {
		t.Errorf("PulledAt not defaulted to now: %v", s.PulledAt)
	}
}

func TestSamplesRoundTrip(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	entries := []link.LogEntry{
		{Position: 10, Time: 1000},
		{Position: 11, Time: 1100},
	}
	id, err := a.SaveSession(ctx, Session{Device: "sim", WrapPoint: 360, Unipolar: true}, entries)
	if err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := a.Samples(ctx, id)
	if err != nil {
		t.Fatalf("Samples failed: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("Expected %d samples, got %d", len(entries), len(got))
	}
	for i := range entries {
		if got[i] != entries[i] {
			t.Errorf("Sample %d: expected %+v, got %+v", i, entries[i], got[i])
		}
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour)
	if _, err := a.SaveSession(ctx, Session{Device: "a", PulledAt: old}, nil); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if _, err := a.SaveSession(ctx, Session{Device: "b"}, nil); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	sessions, err := a.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].Device != "b" || sessions[1].Device != "a" {
		t.Errorf("Expected newest first, got %q then %q", sessions[0].Device, sessions[1].Device)
	}
}

func TestDeleteSession(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	id, err := a.SaveSession(ctx, Session{Device: "sim"}, []link.LogEntry{{Position: 5, Time: 50}})
	if err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	if err := a.DeleteSession(ctx, id); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	sessions, err := a.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("Expected no sessions after delete, got %d", len(sessions))
	}
	samples, err := a.Samples(ctx, id)
	if err != nil {
		t.Fatalf("Samples failed: %v", err)
	}
	if len(samples) != 0 {
		t.Errorf("Expected orphan samples removed, got %d", len(samples))
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	id, err := a.SaveSession(context.Background(), Session{Device: "sim"}, nil)
	if err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopening migrates again and keeps the data.
	a, err = Open(path)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer a.Close()
	sessions, err := a.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != id {
		t.Errorf("Expected the stored session to survive reopen, got %+v", sessions)
	}
}
