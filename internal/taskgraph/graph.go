package taskgraph

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabe/crew/internal/models"
)

var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrDuplicateTask      = errors.New("task already exists")
	ErrUnknownDependency  = errors.New("unknown dependency")
	ErrUnknownParent      = errors.New("unknown parent")
	ErrDependencyCycle    = errors.New("dependency cycle")
	ErrInvalidTransition  = errors.New("invalid task transition")
	ErrDependenciesNotMet = errors.New("dependencies not completed")
)

// Metadata keys written by the graph itself
const (
	MetaBlockedReason   = "blocked_reason"
	MetaCancelledReason = "cancelled_reason"
)

// Graph is an in-memory dependency-aware task store. Stored tasks are never
// in the ready state; ready is derived from pending + completed dependencies.
type Graph struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
	order []string
	seq   int64
	now   func() time.Time
}

// Filter defines filtering options for listing tasks
type Filter struct {
	Status   models.TaskStatus
	Assignee string
	ParentID string
}

// New creates an empty graph
func New() *Graph {
	return &Graph{
		tasks: make(map[string]*models.Task),
		now:   time.Now,
	}
}

// generateID creates a short random ID for tasks
func generateID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random ID: %w", err)
	}
	return "tk-" + hex.EncodeToString(b), nil
}

// Create validates and inserts a task. Every dependency and the parent must
// already exist. On any error the graph is left unchanged.
func (g *Graph) Create(task *models.Task) (*models.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := task.Clone()
	if t.ID == "" {
		for {
			id, err := generateID()
			if err != nil {
				return nil, err
			}
			if _, taken := g.tasks[id]; !taken {
				t.ID = id
				break
			}
		}
	} else if _, exists := g.tasks[t.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
	}

	if t.ParentID != "" {
		if _, ok := g.tasks[t.ParentID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParent, t.ParentID)
		}
	}

	t.Dependencies = dedupe(t.Dependencies)
	for _, dep := range t.Dependencies {
		if dep == t.ID {
			return nil, fmt.Errorf("%w: %s -> %s", ErrDependencyCycle, t.ID, t.ID)
		}
		if _, ok := g.tasks[dep]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDependency, dep)
		}
	}

	now := g.now()
	g.seq++
	t.Seq = g.seq
	t.Status = models.TaskStatusPending
	t.CreatedAt = now
	t.UpdatedAt = now
	t.CompletedAt = nil

	g.tasks[t.ID] = t
	g.order = append(g.order, t.ID)
	return g.view(t), nil
}

// AddDependency makes id depend on depID. It fails with ErrDependencyCycle,
// naming the path, when depID already depends on id transitively.
func (g *Graph) AddDependency(id, depID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if _, ok := g.tasks[depID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDependency, depID)
	}
	for _, d := range t.Dependencies {
		if d == depID {
			return nil
		}
	}
	if path := g.pathTo(depID, id); path != nil {
		return fmt.Errorf("%w: %s -> %s", ErrDependencyCycle, id, strings.Join(path, " -> "))
	}

	t.Dependencies = append(t.Dependencies, depID)
	t.UpdatedAt = g.now()
	return nil
}

// pathTo returns the dependency chain from -> ... -> to, or nil if to is not
// reachable from from.
func (g *Graph) pathTo(from, to string) []string {
	visited := make(map[string]bool)
	var walk func(id string) []string
	walk = func(id string) []string {
		if id == to {
			return []string{id}
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		t, ok := g.tasks[id]
		if !ok {
			return nil
		}
		for _, dep := range t.Dependencies {
			if rest := walk(dep); rest != nil {
				return append([]string{id}, rest...)
			}
		}
		return nil
	}
	return walk(from)
}

// Get retrieves a task by ID
func (g *Graph) Get(id string) (*models.Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	t, ok := g.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return g.view(t), nil
}

// List returns all tasks matching the filter in creation order
func (g *Graph) List(filter Filter) []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*models.Task
	for _, id := range g.order {
		t := g.view(g.tasks[id])
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Assignee != "" && t.Assignee != filter.Assignee {
			continue
		}
		if filter.ParentID != "" && t.ParentID != filter.ParentID {
			continue
		}
		out = append(out, t)
	}
	return out
}

// GetReady returns pending tasks whose dependencies are all completed,
// sorted by priority then creation order.
func (g *Graph) GetReady() []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*models.Task
	for _, id := range g.order {
		t := g.tasks[id]
		if g.isReady(t) {
			ready = append(ready, g.view(t))
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority < ready[j].Priority
		}
		return ready[i].Seq < ready[j].Seq
	})
	return ready
}

func (g *Graph) isReady(t *models.Task) bool {
	if t.Status != models.TaskStatusPending {
		return false
	}
	for _, dep := range t.Dependencies {
		d, ok := g.tasks[dep]
		if !ok || d.Status != models.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// view returns a copy of t with the derived ready status applied
func (g *Graph) view(t *models.Task) *models.Task {
	c := t.Clone()
	if g.isReady(t) {
		c.Status = models.TaskStatusReady
	}
	return c
}

// Start moves a ready task to in_progress
func (g *Graph) Start(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status != models.TaskStatusPending {
		return fmt.Errorf("%w: start %s from %s", ErrInvalidTransition, id, t.Status)
	}
	if !g.isReady(t) {
		return fmt.Errorf("%w: %s", ErrDependenciesNotMet, id)
	}
	t.Status = models.TaskStatusInProgress
	t.UpdatedAt = g.now()
	return nil
}

// Complete marks a task completed. Completing an already completed task is a
// no-op.
func (g *Graph) Complete(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	switch t.Status {
	case models.TaskStatusCompleted:
		return nil
	case models.TaskStatusCancelled:
		return fmt.Errorf("%w: complete %s from %s", ErrInvalidTransition, id, t.Status)
	}
	now := g.now()
	t.Status = models.TaskStatusCompleted
	t.UpdatedAt = now
	t.CompletedAt = &now
	return nil
}

// Block excludes a task from the ready set until it is unblocked. Dependents
// are not touched.
func (g *Graph) Block(id, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	switch t.Status {
	case models.TaskStatusBlocked:
		return nil
	case models.TaskStatusCompleted, models.TaskStatusCancelled:
		return fmt.Errorf("%w: block %s from %s", ErrInvalidTransition, id, t.Status)
	}
	t.Status = models.TaskStatusBlocked
	setMeta(t, MetaBlockedReason, reason)
	t.UpdatedAt = g.now()
	return nil
}

// Unblock returns a blocked task to pending
func (g *Graph) Unblock(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status != models.TaskStatusBlocked {
		return fmt.Errorf("%w: unblock %s from %s", ErrInvalidTransition, id, t.Status)
	}
	t.Status = models.TaskStatusPending
	delete(t.Metadata, MetaBlockedReason)
	t.UpdatedAt = g.now()
	return nil
}

// Cancel marks a task cancelled. Completed tasks cannot be cancelled.
func (g *Graph) Cancel(id, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	switch t.Status {
	case models.TaskStatusCancelled:
		return nil
	case models.TaskStatusCompleted:
		return fmt.Errorf("%w: cancel %s from %s", ErrInvalidTransition, id, t.Status)
	}
	t.Status = models.TaskStatusCancelled
	if reason != "" {
		setMeta(t, MetaCancelledReason, reason)
	}
	t.UpdatedAt = g.now()
	return nil
}

// Annotate merges metadata into a task without changing its status
func (g *Graph) Annotate(id string, metadata map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	for k, v := range metadata {
		setMeta(t, k, v)
	}
	t.UpdatedAt = g.now()
	return nil
}

func setMeta(t *models.Task, key, value string) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	t.Metadata[key] = value
}

// Dependents returns tasks that list id as a dependency
func (g *Graph) Dependents(id string) []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*models.Task
	for _, tid := range g.order {
		t := g.tasks[tid]
		for _, dep := range t.Dependencies {
			if dep == id {
				out = append(out, g.view(t))
				break
			}
		}
	}
	return out
}

// GetHierarchy returns the root followed by all of its descendants via
// parent links, in creation order.
func (g *Graph) GetHierarchy(rootID string) ([]*models.Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	root, ok := g.tasks[rootID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, rootID)
	}

	inTree := map[string]bool{rootID: true}
	out := []*models.Task{g.view(root)}
	// Children are always created after their parent, so one pass in
	// creation order collects every descendant.
	for _, id := range g.order {
		t := g.tasks[id]
		if id != rootID && inTree[t.ParentID] {
			inTree[id] = true
			out = append(out, g.view(t))
		}
	}
	return out, nil
}

// Progress reports completed and total descendants of rootID, excluding the
// root itself.
func (g *Graph) Progress(rootID string) (completed, total int, err error) {
	tasks, err := g.GetHierarchy(rootID)
	if err != nil {
		return 0, 0, err
	}
	for _, t := range tasks[1:] {
		total++
		if t.Status == models.TaskStatusCompleted {
			completed++
		}
	}
	return completed, total, nil
}

// Percent converts a progress pair into a percentage
func Percent(completed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(completed) * 100 / float64(total)
}

// Export returns a copy of every task in creation order. Stored statuses
// are exported, so pending tasks never appear as ready.
func (g *Graph) Export() []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*models.Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id].Clone())
	}
	return out
}

// Import rebuilds a graph from an exported snapshot. It rejects duplicate
// ids, dangling references and cycles.
func Import(tasks []*models.Task) (*Graph, error) {
	g := New()
	sorted := make([]*models.Task, len(tasks))
	copy(sorted, tasks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	for _, task := range sorted {
		if task.ID == "" {
			return nil, errors.New("task without id in snapshot")
		}
		if _, exists := g.tasks[task.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
		}
		t := task.Clone()
		if t.Status == models.TaskStatusReady || t.Status == "" {
			t.Status = models.TaskStatusPending
		}
		g.tasks[t.ID] = t
		g.order = append(g.order, t.ID)
		if t.Seq > g.seq {
			g.seq = t.Seq
		}
	}

	for _, id := range g.order {
		t := g.tasks[id]
		if t.ParentID != "" {
			if _, ok := g.tasks[t.ParentID]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownParent, t.ParentID)
			}
		}
		for _, dep := range t.Dependencies {
			if _, ok := g.tasks[dep]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownDependency, dep)
			}
		}
	}
	for _, id := range g.order {
		for _, dep := range g.tasks[id].Dependencies {
			if path := g.pathTo(dep, id); path != nil {
				return nil, fmt.Errorf("%w: %s -> %s", ErrDependencyCycle, id, strings.Join(path, " -> "))
			}
		}
	}
	return g, nil
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
