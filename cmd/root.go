package cmd

import (
	"github.com/spf13/cobra"
)

var (
	flagHome  string
	flagDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "crew",
	Short: "Crew - mission orchestration for worker agents",
	Long: `Crew turns a goal into a plan of steps, runs each step on the best
matching worker, independently verifies the results and keeps spending
inside the user's credit budget.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagHome, "home", "", "Crew home directory (default ~/crew, or $CREW_HOME)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Log at debug level and tee logs to stdout")
}
