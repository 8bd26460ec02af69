package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/gabe/crew/internal/profile"
	"github.com/gabe/crew/internal/registry"
	"github.com/spf13/cobra"
)

var workersCmd = &cobra.Command{
	Use:     "workers",
	Short:   "Manage worker profiles",
	Long:    `Create, list, and remove the worker profiles missions are assigned to.`,
	Aliases: []string{"w"},
}

var workersListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List all workers",
	Aliases: []string{"ls"},
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.Close()

		list, err := e.profiles.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(list) == 0 {
			fmt.Println("No workers. Use 'crew workers add' to create one.")
			return
		}

		status := make(map[string]string)
		if entries, err := e.roster.List(); err == nil {
			for _, r := range entries {
				status[r.Name] = r.Status
			}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tCAPABILITIES\tPARALLEL\tTIMEOUT\tSTATUS")
		for _, p := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
				p.Name, p.Kind, dash(strings.Join(p.Capabilities, ",")), p.ParallelSafe, dash(p.Timeout), dash(status[p.Name]))
		}
		w.Flush()
	},
}

var workersAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a worker profile",
	Example: `  crew workers add builder --kind command --command make --args build --capabilities build,test
  crew workers add writer --kind claude --capabilities write,research --parallel`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		kind, _ := cmd.Flags().GetString("kind")
		description, _ := cmd.Flags().GetString("description")
		caps, _ := cmd.Flags().GetString("capabilities")
		skills, _ := cmd.Flags().GetString("skills")
		parallel, _ := cmd.Flags().GetBool("parallel")
		timeout, _ := cmd.Flags().GetString("timeout")
		command, _ := cmd.Flags().GetString("command")
		cmdArgs, _ := cmd.Flags().GetStringSlice("args")
		dir, _ := cmd.Flags().GetString("dir")
		model, _ := cmd.Flags().GetString("model")

		e, err := openEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.Close()

		p := &profile.Profile{
			Name:           args[0],
			Description:    description,
			Kind:           profile.Kind(kind),
			Capabilities:   splitList(caps),
			RequiredSkills: splitList(skills),
			ParallelSafe:   parallel,
			Timeout:        timeout,
			Command:        command,
			Args:           cmdArgs,
			Dir:            dir,
			Model:          model,
		}
		if err := e.profiles.Create(p); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := e.roster.Enroll(p.Name, string(p.Kind)); err != nil {
			e.logger.Warn("failed to enroll worker", "worker", p.Name, "error", err)
		}

		fmt.Printf("Created worker '%s' (%s)\n", p.Name, p.Kind)
	},
}

var workersRemoveCmd = &cobra.Command{
	Use:     "rm <name>",
	Short:   "Delete a worker profile",
	Aliases: []string{"remove"},
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]

		e, err := openEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.Close()

		if err := e.profiles.Delete(name); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := e.roster.Remove(name); err != nil && !errors.Is(err, registry.ErrWorkerNotFound) {
			e.logger.Warn("failed to remove worker from roster", "worker", name, "error", err)
		}

		fmt.Printf("Removed worker '%s'\n", name)
	},
}

func init() {
	workersAddCmd.Flags().StringP("kind", "k", string(profile.KindCommand), "Worker kind (command, claude)")
	workersAddCmd.Flags().StringP("description", "d", "", "What the worker is for")
	workersAddCmd.Flags().StringP("capabilities", "c", "", "Comma-separated capabilities")
	workersAddCmd.Flags().String("skills", "", "Comma-separated required skills")
	workersAddCmd.Flags().Bool("parallel", false, "Steps for this worker may run alongside others")
	workersAddCmd.Flags().String("timeout", "", "Per-step timeout (e.g. 10m)")
	workersAddCmd.Flags().String("command", "", "Command to run (command kind)")
	workersAddCmd.Flags().StringSlice("args", nil, "Command arguments (command kind)")
	workersAddCmd.Flags().String("dir", "", "Working directory (default: where crew runs)")
	workersAddCmd.Flags().String("model", "", "Model name (claude kind)")

	workersCmd.AddCommand(workersListCmd)
	workersCmd.AddCommand(workersAddCmd)
	workersCmd.AddCommand(workersRemoveCmd)
	rootCmd.AddCommand(workersCmd)
}
