package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/gabe/crew/internal/hook"
	"github.com/spf13/cobra"
)

var abortCmd = &cobra.Command{
	Use:   "abort <mission-id>",
	Short: "Cancel a running mission",
	Long: `Write an abort hook for the mission. The 'crew run' process driving it
stops dispatching new steps, lets running steps finish and ends the mission
FAILED with the given reason.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		missionID := args[0]
		reason, _ := cmd.Flags().GetString("reason")

		e, err := openEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.Close()

		m, err := e.missions.Get(context.Background(), missionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if m.State.Terminal() {
			fmt.Fprintf(os.Stderr, "Error: mission %s already %s\n", missionID, m.State)
			os.Exit(1)
		}

		mgr, err := hook.NewManager(e.paths.Hooks, missionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := mgr.Abort(reason); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Abort requested for mission %s\n", missionID)
	},
}

func init() {
	abortCmd.Flags().StringP("reason", "r", "user requested", "Why the mission is being cancelled")

	rootCmd.AddCommand(abortCmd)
}
