package display

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gabe/crew/internal/models"
)

var (
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Width(10)
	passStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E22E"))
	failStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#F92672"))
	stateRunStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700")).Bold(true)
	stateDoneStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E22E")).Bold(true)
	stateFailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F92672")).Bold(true)
)

// StyleState colors a mission state
func StyleState(s models.MissionState) string {
	switch s {
	case models.MissionCompleted:
		return stateDoneStyle.Render(string(s))
	case models.MissionFailed, models.MissionCancelling:
		return stateFailStyle.Render(string(s))
	default:
		return stateRunStyle.Render(string(s))
	}
}

// MissionSummary is the data shown by RenderMission
type MissionSummary struct {
	ID           string
	Goal         string
	State        models.MissionState
	Completed    int
	Total        int
	Percent      float64
	CurrentSteps []string
	Cost         int64
	CostByWorker map[string]int64
	Reason       string
	FailureKind  string
	Report       *models.VerificationReport
}

// RenderMission renders a multi-line mission status block
func RenderMission(s MissionSummary) string {
	var sb strings.Builder
	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(label))
		sb.WriteString(value)
		sb.WriteString("\n")
	}

	row("mission", s.ID)
	row("goal", s.Goal)
	row("state", StyleState(s.State))
	row("progress", fmt.Sprintf("%d/%d steps (%.0f%%)", s.Completed, s.Total, s.Percent))
	if len(s.CurrentSteps) > 0 {
		row("running", strings.Join(s.CurrentSteps, ", "))
	}
	row("cost", fmt.Sprintf("%d credits%s", s.Cost, costBreakdown(s.CostByWorker)))
	if s.Reason != "" {
		row("reason", failStyle.Render(s.Reason))
	}
	if s.Report != nil {
		sb.WriteString(RenderReport(*s.Report))
	}
	return sb.String()
}

func costBreakdown(byWorker map[string]int64) string {
	if len(byWorker) == 0 {
		return ""
	}
	names := make([]string, 0, len(byWorker))
	for name := range byWorker {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, byWorker[name])
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

// RenderReport renders a verification report as a check list
func RenderReport(r models.VerificationReport) string {
	var sb strings.Builder
	verdict := passStyle.Render("passed")
	if !r.Passed {
		verdict = failStyle.Render("failed")
	}
	sb.WriteString(labelStyle.Render("verified"))
	sb.WriteString(verdict)
	if r.Source != "" {
		sb.WriteString(dimStyle.Render(" (" + string(r.Source) + ")"))
	}
	if r.ReducedConfidence {
		sb.WriteString(" ")
		sb.WriteString(warnStyle.Render("reduced confidence"))
	}
	sb.WriteString("\n")

	for _, c := range r.Checks {
		mark := passStyle.Render("✓")
		if !c.Passed {
			mark = failStyle.Render("✗")
		}
		sb.WriteString("  ")
		sb.WriteString(mark)
		sb.WriteString(" ")
		sb.WriteString(c.Name)
		if c.Message != "" {
			sb.WriteString(dimStyle.Render(": " + c.Message))
		}
		sb.WriteString("\n")
	}
	for _, rec := range r.Recommendations {
		sb.WriteString("  ")
		sb.WriteString(dimStyle.Render("• " + rec))
		sb.WriteString("\n")
	}
	return sb.String()
}
