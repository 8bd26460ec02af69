package registry

import (
	"sync"
	"testing"

	"github.com/gabe/crew/internal/models"
	"github.com/gabe/crew/internal/worker"
)

func newWorker(name string, caps, skills []string) *worker.Func {
	return &worker.Func{WorkerSpec: models.WorkerSpec{
		Name:           name,
		Capabilities:   caps,
		RequiredSkills: skills,
	}}
}

func TestRegistry_FindBestEmpty(t *testing.T) {
	r := New()
	for _, skills := range [][]string{nil, {}, {"research"}, {"a", "b", "c"}} {
		if w, ok := r.FindBest(skills); ok || w != nil {
			t.Errorf("expected absent for %v on empty registry, got %v", skills, w)
		}
	}
}

func TestRegistry_FindBestExactMatch(t *testing.T) {
	r := New()
	r.Register(newWorker("researcher", []string{"research", "web"}, nil))

	w, ok := r.FindBest([]string{"research", "web"})
	if !ok {
		t.Fatal("expected a match")
	}
	if w.Spec().Name != "researcher" {
		t.Errorf("expected researcher, got %s", w.Spec().Name)
	}
}

func TestRegistry_FindBestScoring(t *testing.T) {
	r := New()
	r.Register(newWorker("generalist", []string{"write"}, nil))
	r.Register(newWorker("specialist", []string{"write"}, []string{"seo"}))
	r.Register(newWorker("coder", []string{"code"}, nil))

	tests := []struct {
		skills []string
		want   string
		found  bool
	}{
		{[]string{"write", "seo"}, "specialist", true},
		{[]string{"write"}, "generalist", true}, // tie goes to first registered
		{[]string{"code", "write"}, "generalist", true},
		{[]string{"design"}, "", false},
	}
	for _, tt := range tests {
		w, ok := r.FindBest(tt.skills)
		if ok != tt.found {
			t.Errorf("FindBest(%v) found=%v, want %v", tt.skills, ok, tt.found)
			continue
		}
		if ok && w.Spec().Name != tt.want {
			t.Errorf("FindBest(%v) = %s, want %s", tt.skills, w.Spec().Name, tt.want)
		}
	}
}

func TestRegistry_RegisterLastWriteWinsKeepsPosition(t *testing.T) {
	r := New()
	r.Register(newWorker("a", []string{"x"}, nil))
	r.Register(newWorker("b", []string{"x"}, nil))
	r.Register(newWorker("a", []string{"x", "y"}, nil))

	names := r.List()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("expected [a b], got %v", names)
	}
	w, _ := r.Get("a")
	if len(w.Spec().Capabilities) != 2 {
		t.Errorf("expected replaced worker, got %v", w.Spec().Capabilities)
	}
	if best, _ := r.FindBest([]string{"x"}); best.Spec().Name != "a" {
		t.Errorf("expected a to keep first position, got %s", best.Spec().Name)
	}
}

func TestRegistry_Score(t *testing.T) {
	r := New()
	r.Register(newWorker("a", []string{"x", "y"}, []string{"z"}))
	if got := r.Score("a", []string{"x", "z", "z", "q"}); got != 2 {
		t.Errorf("expected score 2, got %d", got)
	}
	if got := r.Score("missing", []string{"x"}); got != 0 {
		t.Errorf("expected 0 for unknown worker, got %d", got)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r.Register(newWorker(string(rune('a'+i)), []string{"x"}, nil))
		}(i)
		go func() {
			defer wg.Done()
			r.FindBest([]string{"x"})
			r.List()
		}()
	}
	wg.Wait()
	if r.Len() != 10 {
		t.Errorf("expected 10 workers, got %d", r.Len())
	}
}
