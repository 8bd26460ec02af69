package display

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gabe/crew/internal/models"
)

// TreeOpts configures tree rendering
type TreeOpts struct {
	ShowStatus   bool
	ShowPriority bool
	ShowDeps     bool
	ShowAssignee bool
	ColorEnabled bool
	MaxDepth     int
}

// Styles for tree rendering
var (
	treeBranch     = "├─"
	treeLastBranch = "└─"
	treeVertical   = "│ "
	treeEmpty      = "  "

	statusPendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	statusProgressStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E22E"))
	statusBlockedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F92672"))
	statusCompletedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00D4FF"))
	statusCancelledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")).Strikethrough(true)
	taskIDStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("#00D4FF"))
	taskTitleStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#EEEEEE"))
	dimStyle             = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	warnStyle            = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700"))
)

// DefaultTreeOpts returns default tree rendering options
func DefaultTreeOpts() TreeOpts {
	return TreeOpts{
		ShowStatus:   true,
		ShowDeps:     true,
		ShowAssignee: true,
		ColorEnabled: true,
		MaxDepth:     10,
	}
}

// RenderTaskTree renders tasks as a parent/child tree. Tasks whose parent is
// not in the list are roots.
func RenderTaskTree(tasks []*models.Task, opts TreeOpts) string {
	byID := make(map[string]*models.Task, len(tasks))
	children := make(map[string][]*models.Task)
	for _, t := range tasks {
		byID[t.ID] = t
	}
	var roots []*models.Task
	for _, t := range tasks {
		if _, ok := byID[t.ParentID]; t.ParentID != "" && ok {
			children[t.ParentID] = append(children[t.ParentID], t)
		} else {
			roots = append(roots, t)
		}
	}
	bySeq := func(list []*models.Task) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	}
	bySeq(roots)
	for _, list := range children {
		bySeq(list)
	}

	steps := stepNames(tasks)
	var sb strings.Builder
	for _, root := range roots {
		sb.WriteString(renderTask(root, steps, opts))
		sb.WriteString("\n")
		kids := children[root.ID]
		for i, child := range kids {
			renderNode(&sb, child, children, steps, "", i == len(kids)-1, opts, 1)
		}
	}
	return sb.String()
}

// renderNode recursively renders a task and its children
func renderNode(sb *strings.Builder, t *models.Task, children map[string][]*models.Task, steps map[string]string, indent string, isLast bool, opts TreeOpts, depth int) {
	if opts.MaxDepth > 0 && depth > opts.MaxDepth {
		return
	}

	sb.WriteString(indent)
	if isLast {
		sb.WriteString(treeLastBranch)
	} else {
		sb.WriteString(treeBranch)
	}
	sb.WriteString(" ")
	sb.WriteString(renderTask(t, steps, opts))
	sb.WriteString("\n")

	newIndent := indent + treeVertical
	if isLast {
		newIndent = indent + treeEmpty
	}
	kids := children[t.ID]
	for i, child := range kids {
		renderNode(sb, child, children, steps, newIndent, i == len(kids)-1, opts, depth+1)
	}
}

// stepNames maps task ids to the plan step they run, for readable deps
func stepNames(tasks []*models.Task) map[string]string {
	names := make(map[string]string, len(tasks))
	for _, t := range tasks {
		if step := t.Metadata["step"]; step != "" {
			names[t.ID] = step
		}
	}
	return names
}

// renderTask renders a single task with optional status, priority and deps
func renderTask(t *models.Task, steps map[string]string, opts TreeOpts) string {
	var parts []string

	label := t.ID
	if step := steps[t.ID]; step != "" {
		label = step
	}
	parts = append(parts, paint(opts, taskIDStyle, label))

	title := t.Title
	if len(title) > 50 {
		title = title[:47] + "..."
	}
	parts = append(parts, paint(opts, taskTitleStyle, title))

	if opts.ShowStatus {
		statusStr := fmt.Sprintf("(%s)", t.Status)
		if opts.ColorEnabled {
			statusStr = styleStatus(t.Status, statusStr)
		}
		parts = append(parts, statusStr)
	}
	if opts.ShowPriority {
		parts = append(parts, fmt.Sprintf("[%s]", t.Priority))
	}
	if opts.ShowAssignee && t.Assignee != "" {
		parts = append(parts, paint(opts, dimStyle, "@"+t.Assignee))
	}
	if opts.ShowDeps && len(t.Dependencies) > 0 {
		deps := make([]string, len(t.Dependencies))
		for i, d := range t.Dependencies {
			deps[i] = d
			if step := steps[d]; step != "" {
				deps[i] = step
			}
		}
		parts = append(parts, paint(opts, dimStyle, "after "+strings.Join(deps, ",")))
	}
	if t.Metadata["best_effort_failed"] == "true" {
		parts = append(parts, paint(opts, warnStyle, "best-effort failed"))
	}

	return strings.Join(parts, " ")
}

func paint(opts TreeOpts, style lipgloss.Style, s string) string {
	if !opts.ColorEnabled {
		return s
	}
	return style.Render(s)
}

// styleStatus applies color styling to status strings
func styleStatus(status models.TaskStatus, text string) string {
	switch status {
	case models.TaskStatusPending, models.TaskStatusReady:
		return statusPendingStyle.Render(text)
	case models.TaskStatusInProgress:
		return statusProgressStyle.Render(text)
	case models.TaskStatusBlocked:
		return statusBlockedStyle.Render(text)
	case models.TaskStatusCompleted:
		return statusCompletedStyle.Render(text)
	case models.TaskStatusCancelled:
		return statusCancelledStyle.Render(text)
	default:
		return text
	}
}
