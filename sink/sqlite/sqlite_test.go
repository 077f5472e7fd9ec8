package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	kidwatch "github.com/kidwatch/kidwatch-go"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "events.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	t0 := time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)
	events := []kidwatch.EventRecord{
		{ID: "1", Timestamp: t0, Mode: kidwatch.ModeHomework, Message: "Sit up straight", Category: kidwatch.CategoryViolation, SubjectID: "sam"},
		{ID: "2", Timestamp: t0.Add(time.Minute), Mode: kidwatch.ModeEating, Message: "Use your fork", Category: kidwatch.CategoryViolation},
		{ID: "3", Timestamp: t0.Add(2 * time.Minute), Mode: kidwatch.ModeEating, Message: "Stop playing", Category: kidwatch.CategoryViolation},
	}
	for _, ev := range events {
		if err := s.Write(ctx, ev); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := s.Write(ctx, events[0]); err == nil {
		t.Fatalf("missing error for duplicate id")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen, events must persist.
	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "3" || got[1].ID != "2" {
		t.Fatalf("got %v, expected events 3 and 2", got)
	}

	got, err = s.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, expected 3", len(got))
	}
	last, exp := got[2], events[0]
	if !last.Timestamp.Equal(exp.Timestamp) {
		t.Fatalf("got timestamp %v, expected %v", last.Timestamp, exp.Timestamp)
	}
	last.Timestamp = exp.Timestamp
	if last != exp {
		t.Fatalf("got %+v, expected %+v", last, exp)
	}
}

func TestStoreSubsecondOrder(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	// Whole seconds must not sort after fractions of the same second.
	t0 := time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)
	for _, ev := range []kidwatch.EventRecord{
		{ID: "older", Timestamp: t0, Mode: kidwatch.ModeHomework, Message: "Sit up straight", Category: kidwatch.CategoryViolation},
		{ID: "newer", Timestamp: t0.Add(500 * time.Millisecond), Mode: kidwatch.ModeHomework, Message: "Eyes on your book", Category: kidwatch.CategoryViolation},
	} {
		if err := s.Write(ctx, ev); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	got, err := s.List(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "newer" {
		t.Fatalf("got %v, expected the newer event", got)
	}
	if !got[0].Timestamp.Equal(t0.Add(500 * time.Millisecond)) {
		t.Fatalf("got timestamp %v, expected %v", got[0].Timestamp, t0.Add(500*time.Millisecond))
	}
}
