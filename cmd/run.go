package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gabe/crew/internal/display"
	"github.com/gabe/crew/internal/hook"
	"github.com/gabe/crew/internal/mission"
	"github.com/gabe/crew/internal/models"
	"github.com/gabe/crew/internal/planner"
	"github.com/gabe/crew/internal/tui"
	"github.com/gabe/crew/internal/worker"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Run a mission for a goal",
	Long: `Plan the goal into steps, run each step on the best matching worker and
verify the results. With --plan the steps come from a JSON plan file instead
of a planner worker. Ctrl-C or 'crew abort <id>' cancels the mission; steps
already running are allowed to finish.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		goal := strings.Join(args, " ")
		planFile, _ := cmd.Flags().GetString("plan")
		userFlag, _ := cmd.Flags().GetString("user")
		watch, _ := cmd.Flags().GetBool("watch")
		asJSON, _ := cmd.Flags().GetBool("json")

		e, err := openEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.Close()

		reg, err := e.registry()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		coord := e.coordinator(reg)

		req := mission.Request{
			ID:     mission.NewMissionID(),
			UserID: e.user(userFlag),
			Goal:   goal,
		}
		if planFile != "" {
			req.Oracle = planner.FileOracle{Path: planFile}
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		hooks, err := hook.NewManager(e.paths.Hooks, req.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer hooks.Clear()
		if err := hooks.OnAbort(ctx, e.logger, func(reason string) {
			if err := coord.Cancel(req.ID, reason); err != nil {
				e.logger.Warn("abort ignored", "mission", req.ID, "error", err)
			}
		}); err != nil {
			e.logger.Warn("abort hook unavailable", "mission", req.ID, "error", err)
		}

		final, runErr := runMission(ctx, coord, req, watch && !asJSON)
		if final == nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
			os.Exit(1)
		}

		if asJSON {
			if err := printJSON(final); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		} else {
			snap, err := coord.Snapshot(context.Background(), final.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println()
			fmt.Print(display.RenderMission(summaryOf(snap)))
		}

		var failure *mission.Failure
		if errors.As(runErr, &failure) {
			hooks.Clear()
			e.Close()
			os.Exit(1)
		}
	},
}

// runMission drives the mission, streaming worker output either to stdout
// or into the progress view
func runMission(ctx context.Context, coord *mission.Coordinator, req mission.Request, watch bool) (*models.Mission, error) {
	if !watch {
		fmt.Printf("Mission %s started\n", req.ID)
		req.Sink = worker.NewWriterSink(os.Stdout, "  | ")
		return coord.Run(ctx, req)
	}

	sink := worker.NewChanSink(256)
	req.Sink = sink

	type outcome struct {
		mission *models.Mission
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		m, err := coord.Run(ctx, req)
		done <- outcome{m, err}
	}()

	if err := tui.Run(req.ID, coord, sink.C()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: progress view failed: %v\n", err)
	}
	out := <-done
	if n := sink.Dropped(); n > 0 {
		fmt.Println(mutedStyle.Render(fmt.Sprintf("%d worker log lines did not fit the progress view", n)))
	}
	return out.mission, out.err
}

func init() {
	runCmd.Flags().StringP("plan", "p", "", "JSON plan file to run instead of asking a planner")
	runCmd.Flags().StringP("user", "u", "", "User the mission is billed to (default from config)")
	runCmd.Flags().BoolP("watch", "w", false, "Show the live progress view")
	runCmd.Flags().Bool("json", false, "Print the final mission record as JSON")

	rootCmd.AddCommand(runCmd)
}
