package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRoster_BusyIdleCycle(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "crew-roster-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	roster := NewRoster(DefaultRosterPath(tmpDir))

	if err := roster.Enroll("researcher", "claude"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	if err := roster.MarkBusy("researcher", "m-1", "tk-1234"); err != nil {
		t.Fatalf("mark busy failed: %v", err)
	}

	// A second roster on the same file sees the change
	other := NewRoster(DefaultRosterPath(tmpDir))
	e, err := other.Get("researcher")
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != StatusBusy || e.Task != "tk-1234" || e.MissionID != "m-1" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.Calls != 1 {
		t.Errorf("expected 1 call, got %d", e.Calls)
	}

	if err := roster.MarkIdle("researcher", "m-1"); err != nil {
		t.Fatal(err)
	}
	e, _ = roster.Get("researcher")
	if e.Status != StatusIdle || e.Task != "" {
		t.Errorf("expected idle entry, got %+v", e)
	}
}

func TestRoster_StaysBusyUntilEveryCallFinishes(t *testing.T) {
	roster := NewRoster(DefaultRosterPath(t.TempDir()))

	if err := roster.MarkBusy("linter", "m-1", "lint-a"); err != nil {
		t.Fatal(err)
	}
	if err := roster.MarkBusy("linter", "m-1", "lint-b"); err != nil {
		t.Fatal(err)
	}

	if err := roster.MarkIdle("linter", "m-1"); err != nil {
		t.Fatal(err)
	}
	e, _ := roster.Get("linter")
	if e.Status != StatusBusy || e.Active != 1 {
		t.Errorf("expected busy with 1 active call, got %+v", e)
	}

	if err := roster.MarkIdle("linter", "m-1"); err != nil {
		t.Fatal(err)
	}
	e, _ = roster.Get("linter")
	if e.Status != StatusIdle || e.Active != 0 || e.Task != "" {
		t.Errorf("expected idle entry, got %+v", e)
	}

	// A finish for a mission with nothing running is a no-op
	if err := roster.MarkIdle("linter", "m-1"); err != nil {
		t.Fatal(err)
	}
	e, _ = roster.Get("linter")
	if e.Active != 0 {
		t.Errorf("expected active to stay at 0, got %d", e.Active)
	}
}

func TestRoster_ReleaseDropsOneMission(t *testing.T) {
	roster := NewRoster(DefaultRosterPath(t.TempDir()))

	for _, m := range []string{"m-1", "m-1", "m-2"} {
		if err := roster.MarkBusy("linter", m, "lint"); err != nil {
			t.Fatal(err)
		}
	}
	if err := roster.Release("linter", "m-1"); err != nil {
		t.Fatal(err)
	}
	e, _ := roster.Get("linter")
	if e.Status != StatusBusy || e.Active != 1 || e.InFlight["m-2"] != 1 {
		t.Errorf("expected m-2 still running, got %+v", e)
	}

	if err := roster.Release("linter", "m-2"); err != nil {
		t.Fatal(err)
	}
	e, _ = roster.Get("linter")
	if e.Status != StatusIdle {
		t.Errorf("expected idle entry, got %+v", e)
	}
}

func TestRoster_ListAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workers.json")
	roster := NewRoster(path)

	for _, name := range []string{"b", "a", "c"} {
		if err := roster.Enroll(name, "command"); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := roster.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 || entries[0].Name != "a" {
		t.Errorf("expected 3 entries sorted by name, got %v", entries)
	}

	if err := roster.Remove("b"); err != nil {
		t.Fatal(err)
	}
	if err := roster.Remove("b"); !errors.Is(err, ErrWorkerNotFound) {
		t.Errorf("expected ErrWorkerNotFound, got %v", err)
	}
	if _, err := roster.Get("b"); !errors.Is(err, ErrWorkerNotFound) {
		t.Errorf("expected ErrWorkerNotFound, got %v", err)
	}

	if err := roster.Clear(); err != nil {
		t.Fatal(err)
	}
	entries, _ = roster.List()
	if len(entries) != 0 {
		t.Errorf("expected empty roster, got %d", len(entries))
	}
}
