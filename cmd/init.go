package cmd

import (
	"fmt"
	"os"

	"github.com/gabe/crew/internal/config"
	"github.com/gabe/crew/internal/setup"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize crew with interactive setup",
	Long: `Run the first-time setup wizard to create the crew home, config,
sample workers and a sample plan. With --yes the defaults are used without
prompting.`,
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")

		home, err := crewHome()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if yes {
			paths, err := setup.Install(home, config.DefaultConfig())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Initialized crew home at %s\n", paths.Root)
			return
		}

		if _, err := setup.NewWizard().WithHome(home).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	initCmd.Flags().BoolP("yes", "y", false, "Accept all defaults without prompting")

	rootCmd.AddCommand(initCmd)
}
