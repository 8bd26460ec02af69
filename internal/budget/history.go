package budget

import (
	"time"

	"github.com/gabe/crew/internal/models"
)

// Source yields a user's metrics over a window. The evaluator asks once per
// distinct rule window.
type Source interface {
	Over(window time.Duration) MetricsSnapshot
}

// SourceFunc adapts a function to a Source
type SourceFunc func(window time.Duration) MetricsSnapshot

// Over implements Source
func (f SourceFunc) Over(window time.Duration) MetricsSnapshot { return f(window) }

// Over reports the snapshot unchanged for every window
func (s MetricsSnapshot) Over(time.Duration) MetricsSnapshot { return s }

// History computes metrics from one user's mission records
type History struct {
	Missions  []*models.Mission
	Allocated int64
	Now       time.Time
}

// Over implements Source
func (h History) Over(window time.Duration) MetricsSnapshot {
	return SnapshotFromMissions(h.Missions, h.Allocated, window, h.Now)
}

// WithMission returns a copy of the history with m replacing the stored
// record of the same id, or appended when it has none
func (h History) WithMission(m *models.Mission) History {
	out := History{Allocated: h.Allocated, Now: h.Now}
	out.Missions = make([]*models.Mission, 0, len(h.Missions)+1)
	replaced := false
	for _, stored := range h.Missions {
		if stored.ID == m.ID {
			out.Missions = append(out.Missions, m)
			replaced = true
			continue
		}
		out.Missions = append(out.Missions, stored)
	}
	if !replaced {
		out.Missions = append(out.Missions, m)
	}
	return out
}

// SnapshotFromMissions computes a user's metrics from persisted mission
// records, for processes that did not run the missions themselves. Error
// rate and throughput count missions that finished inside the window;
// queue depth is the number of missions not yet terminal.
func SnapshotFromMissions(missions []*models.Mission, allocated int64, window time.Duration, now time.Time) MetricsSnapshot {
	if window <= 0 || window > maxWindow {
		window = maxWindow
	}
	cutoff := now.Add(-window)

	var snap MetricsSnapshot
	var total int64
	var finished, failed int
	for _, m := range missions {
		total += m.TotalCost
		if !m.State.Terminal() {
			snap.QueueDepth++
			continue
		}
		at := m.UpdatedAt
		if m.FinishedAt != nil {
			at = *m.FinishedAt
		}
		if at.Before(cutoff) {
			continue
		}
		finished++
		if m.State == models.MissionFailed {
			failed++
		}
	}

	snap.TotalCost = float64(total)
	if allocated > 0 {
		snap.BudgetUsage = float64(total) * 100 / float64(allocated)
	}
	if finished > 0 {
		snap.ErrorRate = float64(failed) * 100 / float64(finished)
	}
	snap.Throughput = float64(finished) / window.Minutes()
	return snap
}
