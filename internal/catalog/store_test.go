package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "catalog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndList(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{SessionID: "a", Start: base, DistanceCM: 100, SpeedMPS: 0.1, Direction: "forward", File: "a.csv", Samples: 10, State: "idle"},
		{SessionID: "b", Start: base.Add(500 * time.Millisecond), DistanceCM: 50, SpeedMPS: 1, Direction: "reverse", File: "b.csv", Samples: 3, NonNumeric: 1, Dropped: 2, State: "idle", Aborted: true},
		{SessionID: "c", Start: base.Add(time.Second), DistanceCM: 10, SpeedMPS: 0.5, Direction: "forward", State: "failed", Cause: "motor: serial not connected"},
	}
	for _, e := range entries {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record(%s): %v", e.SessionID, err)
		}
	}

	got, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].SessionID != "c" || got[1].SessionID != "b" || got[2].SessionID != "a" {
		t.Errorf("order = %s %s %s, want c b a", got[0].SessionID, got[1].SessionID, got[2].SessionID)
	}
	b := got[1]
	if !b.Start.Equal(entries[1].Start) || b.Dropped != 2 || !b.Aborted || b.NonNumeric != 1 {
		t.Errorf("entry b = %+v", b)
	}
	if got[0].Cause == "" {
		t.Error("cause not stored")
	}

	limited, err := s.List(ctx, 1)
	if err != nil {
		t.Fatalf("List(1): %v", err)
	}
	if len(limited) != 1 || limited[0].SessionID != "c" {
		t.Errorf("List(1) = %+v", limited)
	}
}

func TestRecordReplaces(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	e := Entry{SessionID: "x", Start: time.Now(), State: "moving"}
	if err := s.Record(ctx, e); err != nil {
		t.Fatal(err)
	}
	e.State = "idle"
	e.Samples = 42
	if err := s.Record(ctx, e); err != nil {
		t.Fatal(err)
	}
	got, err := s.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].State != "idle" || got[0].Samples != 42 {
		t.Errorf("List = %+v, want one replaced entry", got)
	}
}
