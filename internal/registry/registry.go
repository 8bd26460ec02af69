// Package registry holds the capability index of workers available to the
// coordinator and the on-disk roster that records what they are doing.
package registry

import (
	"sync"

	"github.com/gabe/crew/internal/worker"
)

// Registry is a capability-indexed catalogue of workers. It is built once at
// startup and passed by reference; reads are concurrent, writes serialized.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]worker.Worker
	order   []string
}

// New creates an empty registry
func New() *Registry {
	return &Registry{workers: make(map[string]worker.Worker)}
}

// Register adds a worker. Registering an existing name replaces the worker
// but keeps its original position for tie-breaking.
func (r *Registry) Register(w worker.Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := w.Spec().Name
	if _, exists := r.workers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.workers[name] = w
}

// Get returns a worker by name
func (r *Registry) Get(name string) (worker.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[name]
	return w, ok
}

// List returns all worker names in registration order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// Len returns the number of registered workers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// FindBest returns the worker whose capabilities and required skills overlap
// the requested skills the most. Ties go to the earliest registered worker;
// no overlap at all means no worker.
func (r *Registry) FindBest(skills []string) (worker.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requested := make(map[string]bool, len(skills))
	for _, s := range skills {
		requested[s] = true
	}

	var best worker.Worker
	bestScore := 0
	for _, name := range r.order {
		w := r.workers[name]
		score := 0
		for tag := range w.Spec().Tags() {
			if requested[tag] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = w, score
		}
	}
	return best, bestScore > 0
}

// Score reports how many requested skills a named worker covers
func (r *Registry) Score(name string, skills []string) int {
	w, ok := r.Get(name)
	if !ok {
		return 0
	}
	tags := w.Spec().Tags()
	score := 0
	seen := make(map[string]bool, len(skills))
	for _, s := range skills {
		if tags[s] && !seen[s] {
			score++
		}
		seen[s] = true
	}
	return score
}
