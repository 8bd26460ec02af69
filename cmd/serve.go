package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gabe/crew/internal/api"
	"github.com/gabe/crew/internal/daemon"
	"github.com/gabe/crew/internal/patrol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// Missions persist on every step, so the stale limit only has to outlast
// the longest single step
const (
	patrolStaleDefault    = 2 * time.Hour
	patrolIntervalDefault = 2 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the status API and mission patrol",
	Long: `Run the long-lived crew process: the read-only status API with
Prometheus metrics, a patrol that fails missions whose process died and
evaluates alert rules, and the periodic notification digest.`,
	Run: func(cmd *cobra.Command, args []string) {
		listen, _ := cmd.Flags().GetString("listen")
		stop, _ := cmd.Flags().GetBool("stop")
		status, _ := cmd.Flags().GetBool("status")
		staleAfter, _ := cmd.Flags().GetDuration("stale-after")
		interval, _ := cmd.Flags().GetDuration("interval")

		e, err := openEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.Close()

		d := daemon.New(e.paths.Data, e.logger)

		switch {
		case status:
			state, pid, err := d.Status()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if state == daemon.StateRunning {
				fmt.Printf("crew serve running (PID %d)\n", pid)
			} else {
				fmt.Println("crew serve not running")
			}
			return
		case stop:
			if err := d.Signal(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Stop signal sent")
			return
		}

		if listen == "" {
			listen = e.cfg.API.Listen
		}
		e.startSummary()
		coord := e.coordinator(nil)

		server := api.NewServer(api.Options{
			Listen:   listen,
			Missions: coord,
			Store:    e.missions,
			Rules:    e.rules,
			Gatherer: prometheus.DefaultGatherer,
			Logger:   e.logger,
		})
		p := patrol.New(e.missions,
			patrol.WithInterval(interval),
			patrol.WithStaleTimeout(staleAfter),
			patrol.WithActive(coord),
			patrol.WithRoster(e.roster),
			patrol.WithEvaluator(e.evaluator, e.cfg.Budget.AllocatedCredits),
			patrol.WithLogger(e.logger),
			patrol.WithOnAbandoned(func(s patrol.MissionStatus) {
				e.notifier.NotifyMissionFailed(context.Background(), s.MissionID, s.UserID, s.Goal, s.Message, 0)
			}),
		)

		d.Add("api", server.Start)
		d.Add("patrol", p.Start)

		fmt.Printf("crew serve listening on %s\n", listen)
		if err := d.Start(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			e.Close()
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().StringP("listen", "l", "", "Address for the status API (default from config)")
	serveCmd.Flags().Bool("stop", false, "Stop a running crew serve")
	serveCmd.Flags().Bool("status", false, "Report whether crew serve is running")
	serveCmd.Flags().Duration("stale-after", patrolStaleDefault, "Fail non-terminal missions with no update for this long")
	serveCmd.Flags().Duration("interval", patrolIntervalDefault, "Patrol check interval")

	rootCmd.AddCommand(serveCmd)
}
