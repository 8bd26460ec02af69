package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gabe/crew/internal/mission"
	"github.com/gabe/crew/internal/models"
)

type fakeSource struct {
	snap mission.Snapshot
	err  error
}

func (f fakeSource) Snapshot(ctx context.Context, missionID string) (mission.Snapshot, error) {
	return f.snap, f.err
}

func TestRunUsesStartProgram(t *testing.T) {
	called := false
	original := startProgram
	startProgram = func(model tea.Model) error {
		called = true
		if _, ok := model.(Model); !ok {
			t.Errorf("expected tui.Model, got %T", model)
		}
		return nil
	}
	defer func() {
		startProgram = original
	}()

	if err := Run("ms-1", fakeSource{}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected startProgram to be called")
	}
}

func TestViewBeforeFirstSnapshot(t *testing.T) {
	m := NewModel("ms-1", fakeSource{}, nil)
	if !strings.Contains(m.View(), "waiting for mission") {
		t.Fatalf("unexpected view:\n%s", m.View())
	}
}

func TestSnapshotUpdatesView(t *testing.T) {
	m := NewModel("ms-1", fakeSource{}, nil)
	updated, cmd := m.Update(snapshotMsg{snap: mission.Snapshot{
		MissionID:    "ms-1",
		Goal:         "ship it",
		State:        models.MissionExecuting,
		Completed:    1,
		Total:        4,
		Percent:      25,
		CurrentSteps: []string{"build"},
		CostToDate:   12,
	}})
	if cmd == nil {
		t.Fatal("expected a follow-up poll tick")
	}
	view := updated.View()
	for _, want := range []string{"ship it", "EXECUTING", "1/4", "build", "12 credits", "q to detach"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in view:\n%s", want, view)
		}
	}
}

func TestTerminalSnapshotQuits(t *testing.T) {
	m := NewModel("ms-1", fakeSource{}, nil)
	updated, cmd := m.Update(snapshotMsg{snap: mission.Snapshot{
		State:  models.MissionFailed,
		Reason: "step s2 failed: boom",
	}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
	model := updated.(Model)
	if model.Detached() {
		t.Error("finished mission should not count as detached")
	}
	if !strings.Contains(model.View(), "step s2 failed: boom") {
		t.Errorf("expected reason in view:\n%s", model.View())
	}
}

func TestQuitKeyDetaches(t *testing.T) {
	m := NewModel("ms-1", fakeSource{}, nil)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if !updated.(Model).Detached() {
		t.Error("expected detached after q")
	}
}

func TestPollError(t *testing.T) {
	m := NewModel("ms-1", fakeSource{err: errors.New("no such mission")}, nil)
	msg := m.poll()()
	updated, _ := m.Update(msg)
	if !strings.Contains(updated.View(), "no such mission") {
		t.Errorf("expected error in view:\n%s", updated.View())
	}
}

func TestLinesAreFed(t *testing.T) {
	lines := make(chan string, 2)
	lines <- "[build] compiling"
	close(lines)

	m := NewModel("ms-1", fakeSource{}, lines)
	msg := m.waitForLine()()
	updated, next := m.Update(msg)
	if next == nil {
		t.Fatal("expected to keep reading lines")
	}
	if _, ok := next().(linesClosedMsg); !ok {
		t.Fatal("expected channel close to be reported")
	}

	model := updated.(Model)
	model.loaded = true
	if !strings.Contains(model.View(), "[build] compiling") {
		t.Errorf("expected line in view:\n%s", model.View())
	}
}

func TestFeedKeepsNewest(t *testing.T) {
	f := NewFeed(2)
	f.Push("a")
	f.Push("b")
	f.Push("c")
	got := f.Lines()
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("expected [b c], got %v", got)
	}
}
