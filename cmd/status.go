package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gabe/crew/internal/daemon"
	"github.com/gabe/crew/internal/display"
	"github.com/gabe/crew/internal/mission"
	"github.com/gabe/crew/internal/models"
	"github.com/gabe/crew/internal/registry"
	"github.com/gabe/crew/internal/storage"
	"github.com/spf13/cobra"
)

// Styles for terminal output
var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00D4FF"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E22E"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FD971F"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EEEEEE"))
)

type statusOutput struct {
	Daemon   daemonInfo       `json:"daemon"`
	Workers  []workerInfo     `json:"workers"`
	Missions []missionSummary `json:"missions"`
}

type daemonInfo struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Listen  string `json:"listen,omitempty"`
}

type workerInfo struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	MissionID string `json:"mission_id,omitempty"`
	Task      string `json:"task,omitempty"`
	Active    int    `json:"active"`
	Calls     int64  `json:"calls"`
	LastPing  string `json:"last_ping"`
}

type missionSummary struct {
	ID      string              `json:"id"`
	UserID  string              `json:"user_id"`
	State   models.MissionState `json:"state"`
	Cost    int64               `json:"cost"`
	Goal    string              `json:"goal"`
	Updated string              `json:"updated"`
}

var statusCmd = &cobra.Command{
	Use:     "status [mission-id]",
	Short:   "Show crew status, or the progress of one mission",
	Aliases: []string{"st"},
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")

		e, err := openEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.Close()
		ctx := context.Background()

		if len(args) == 1 {
			snap, err := e.coordinator(nil).Snapshot(ctx, args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if asJSON {
				if err := printJSON(snap); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				return
			}
			fmt.Print(display.RenderMission(summaryOf(snap)))
			return
		}

		out, err := gatherStatus(ctx, e)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if asJSON {
			if err := printJSON(out); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
		printStatus(out)
	},
}

var missionsCmd = &cobra.Command{
	Use:     "missions",
	Short:   "List missions, newest first",
	Aliases: []string{"ls"},
	Run: func(cmd *cobra.Command, args []string) {
		userFlag, _ := cmd.Flags().GetString("user")
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		e, err := openEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.Close()

		missions, err := e.missions.List(context.Background(), storage.MissionFilter{
			UserID: userFlag,
			State:  models.MissionState(state),
			Limit:  limit,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if asJSON {
			if err := printJSON(missions); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
		if len(missions) == 0 {
			fmt.Println("No missions. Use 'crew run <goal>' to start one.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSER\tSTATE\tCOST\tUPDATED\tGOAL")
		for _, m := range missions {
			s := summarize(m)
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", s.ID, s.UserID, s.State, s.Cost, s.Updated, s.Goal)
		}
		w.Flush()
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks <mission-id>",
	Short: "Show a mission's task graph",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		tree, _ := cmd.Flags().GetBool("tree")
		asJSON, _ := cmd.Flags().GetBool("json")

		e, err := openEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.Close()

		tasks, err := e.coordinator(nil).Tasks(context.Background(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		switch {
		case asJSON:
			if err := printJSON(tasks); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		case tree:
			fmt.Print(display.RenderTaskTree(tasks, display.DefaultTreeOpts()))
		default:
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTEP\tSTATUS\tWORKER\tDEPENDS ON")
			for _, t := range tasks {
				if t.ParentID == "" {
					continue
				}
				deps := "-"
				if len(t.Dependencies) > 0 {
					deps = fmt.Sprint(t.Dependencies)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Metadata[mission.MetaStep], t.Status, t.Assignee, deps)
			}
			w.Flush()
		}
	},
}

func gatherStatus(ctx context.Context, e *env) (statusOutput, error) {
	var out statusOutput

	d := daemon.New(e.paths.Data, e.logger)
	state, pid, err := d.Status()
	if err != nil {
		return out, err
	}
	out.Daemon = daemonInfo{Running: state == daemon.StateRunning, PID: pid}
	if out.Daemon.Running {
		out.Daemon.Listen = e.cfg.API.Listen
	}

	entries, err := e.roster.List()
	if err != nil {
		return out, err
	}
	for _, r := range entries {
		out.Workers = append(out.Workers, workerOf(r))
	}
	sort.Slice(out.Workers, func(i, j int) bool { return out.Workers[i].Name < out.Workers[j].Name })

	missions, err := e.missions.List(ctx, storage.MissionFilter{})
	if err != nil {
		return out, err
	}
	for _, m := range missions {
		if !m.State.Terminal() {
			out.Missions = append(out.Missions, summarize(m))
		}
	}
	return out, nil
}

func printStatus(out statusOutput) {
	fmt.Println(headerStyle.Render("crew status"))
	fmt.Println()

	fmt.Print(labelStyle.Render("daemon  "))
	if out.Daemon.Running {
		fmt.Println(successStyle.Render(fmt.Sprintf("running (PID %d, %s)", out.Daemon.PID, out.Daemon.Listen)))
	} else {
		fmt.Println(mutedStyle.Render("stopped"))
	}
	fmt.Println()

	fmt.Println(sectionStyle.Render("Workers"))
	if len(out.Workers) == 0 {
		fmt.Println(mutedStyle.Render("  none enrolled. Use 'crew workers add' to create one."))
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  NAME\tKIND\tSTATUS\tMISSION\tTASK\tCALLS\tLAST PING")
		for _, wk := range out.Workers {
			status := wk.Status
			if status == registry.StatusBusy {
				status = warningStyle.Render(fmt.Sprintf("%s x%d", status, wk.Active))
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%d\t%s\n", wk.Name, wk.Kind, status, dash(wk.MissionID), dash(wk.Task), wk.Calls, wk.LastPing)
		}
		w.Flush()
	}
	fmt.Println()

	fmt.Println(sectionStyle.Render("Active missions"))
	if len(out.Missions) == 0 {
		fmt.Println(mutedStyle.Render("  none"))
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, m := range out.Missions {
		fmt.Fprintf(w, "  %s\t%s\t%d credits\t%s\n", m.ID, display.StyleState(m.State), m.Cost, m.Goal)
	}
	w.Flush()
}

func workerOf(r *registry.RosterEntry) workerInfo {
	ping := "-"
	if !r.LastPing.IsZero() {
		ping = time.Since(r.LastPing).Round(time.Second).String() + " ago"
	}
	return workerInfo{
		Name:      r.Name,
		Kind:      r.Kind,
		Status:    r.Status,
		MissionID: r.MissionID,
		Task:      r.Task,
		Active:    r.Active,
		Calls:     r.Calls,
		LastPing:  ping,
	}
}

func summarize(m *models.Mission) missionSummary {
	goal := m.Goal
	if len(goal) > 60 {
		goal = goal[:57] + "..."
	}
	return missionSummary{
		ID:      m.ID,
		UserID:  m.UserID,
		State:   m.State,
		Cost:    m.TotalCost,
		Goal:    goal,
		Updated: m.UpdatedAt.Format("2006-01-02 15:04"),
	}
}

func summaryOf(s mission.Snapshot) display.MissionSummary {
	return display.MissionSummary{
		ID:           s.MissionID,
		Goal:         s.Goal,
		State:        s.State,
		Completed:    s.Completed,
		Total:        s.Total,
		Percent:      s.Percent,
		CurrentSteps: s.CurrentSteps,
		Cost:         s.CostToDate,
		CostByWorker: s.CostByWorker,
		Reason:       s.Reason,
		FailureKind:  s.FailureKind,
		Report:       s.Report,
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	statusCmd.Flags().Bool("json", false, "Output as JSON")

	missionsCmd.Flags().StringP("user", "u", "", "Only missions of this user")
	missionsCmd.Flags().String("state", "", "Only missions in this state (e.g. FAILED)")
	missionsCmd.Flags().IntP("limit", "n", 20, "Maximum missions to show (0 = all)")
	missionsCmd.Flags().Bool("json", false, "Output as JSON")

	tasksCmd.Flags().BoolP("tree", "t", false, "Render the task hierarchy as a tree")
	tasksCmd.Flags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(missionsCmd)
	rootCmd.AddCommand(tasksCmd)
}
