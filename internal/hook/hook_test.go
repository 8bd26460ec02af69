package hook

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestManager_WriteRead(t *testing.T) {
	mgr, err := NewManager(t.TempDir(), "ms-1234")
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	if err := mgr.Write(&Hook{Type: HookTypeNote, Message: "hello"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	hook, err := mgr.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if hook == nil {
		t.Fatal("expected hook, got nil")
	}
	if hook.Type != HookTypeNote {
		t.Errorf("expected type note, got %s", hook.Type)
	}
	if hook.MissionID != "ms-1234" {
		t.Errorf("expected mission id ms-1234, got %s", hook.MissionID)
	}
	if hook.Seq != 1 {
		t.Errorf("expected seq 1, got %d", hook.Seq)
	}
	if hook.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}

	if _, err := os.Stat(mgr.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not remain after write")
	}
}

func TestManager_ReadNotFound(t *testing.T) {
	mgr, err := NewManager(t.TempDir(), "ms-empty")
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	hook, err := mgr.Read()
	if err != nil {
		t.Fatalf("Read should not fail for missing file: %v", err)
	}
	if hook != nil {
		t.Errorf("expected nil hook, got %+v", hook)
	}
}

func TestManager_Clear(t *testing.T) {
	mgr, err := NewManager(t.TempDir(), "ms-clear")
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := mgr.Abort("stop"); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if err := mgr.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := os.Stat(mgr.Path()); !os.IsNotExist(err) {
		t.Error("hook file should be removed")
	}
	// Clearing twice is fine
	if err := mgr.Clear(); err != nil {
		t.Errorf("second Clear failed: %v", err)
	}
}

func TestManager_SeqSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, "ms-seq")
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := mgr.Write(&Hook{Type: HookTypeNote}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	again, err := NewManager(dir, "ms-seq")
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := again.Abort("late"); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	hook, _ := again.Read()
	if hook.Seq != 4 {
		t.Errorf("expected seq 4, got %d", hook.Seq)
	}
}

func TestNewManager_RequiresMission(t *testing.T) {
	if _, err := NewManager(t.TempDir(), ""); err == nil {
		t.Error("expected error for empty mission id")
	}
}

func TestNewManager_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "hooks")
	if _, err := NewManager(dir, "ms-dir"); err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("hook directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected a directory")
	}
}

func TestManager_Watch(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, "ms-watch")
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	hookChan, err := mgr.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	// Another process writes through its own manager
	go func() {
		time.Sleep(100 * time.Millisecond)
		writer, err := NewManager(dir, "ms-watch")
		if err != nil {
			t.Errorf("NewManager in goroutine failed: %v", err)
			return
		}
		if err := writer.Abort("from cli"); err != nil {
			t.Errorf("Abort in goroutine failed: %v", err)
		}
	}()

	select {
	case hook := <-hookChan:
		if hook == nil {
			t.Fatal("received nil hook")
		}
		if hook.Type != HookTypeAbort || hook.Message != "from cli" {
			t.Errorf("unexpected hook %+v", hook)
		}
	case <-ctx.Done():
		t.Error("timed out waiting for hook")
	}
}

func TestManager_WatchIgnoresOtherMissions(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, "ms-mine")
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	other, err := NewManager(dir, "ms-other")
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	hookChan, err := mgr.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if err := other.Abort("not yours"); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	for hook := range hookChan {
		t.Errorf("unexpected hook for %s", hook.MissionID)
	}
}

func TestManager_WatchCancellation(t *testing.T) {
	mgr, err := NewManager(t.TempDir(), "ms-cancel")
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	hookChan, err := mgr.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	cancel()

	select {
	case _, ok := <-hookChan:
		if ok {
			t.Error("expected channel to be closed after context cancellation")
		}
	case <-time.After(500 * time.Millisecond):
		t.Error("channel did not close after context cancellation")
	}
}

func TestManager_OnAbort(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, "ms-abort")
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reasons := make(chan string, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := mgr.OnAbort(ctx, logger, func(reason string) { reasons <- reason }); err != nil {
		t.Fatalf("OnAbort failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := mgr.Write(&Hook{Type: HookTypeNote, Message: "still going"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := mgr.Abort(""); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	select {
	case reason := <-reasons:
		if reason != "aborted" {
			t.Errorf("expected default reason, got %q", reason)
		}
	case <-ctx.Done():
		t.Error("abort callback never ran")
	}
}
