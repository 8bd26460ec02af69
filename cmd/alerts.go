package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/gabe/crew/internal/budget"
	"github.com/gabe/crew/internal/models"
	"github.com/gabe/crew/internal/storage"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage budget alert rules and the alert inbox",
}

var alertsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create an alert rule",
	Example: `  crew alerts add "spend over 500" --metric total_cost --condition gte --threshold 500
  crew alerts add "failing" --metric error_rate --condition gt --threshold 20 --window 30 --severity critical`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		userFlag, _ := cmd.Flags().GetString("user")
		metric, _ := cmd.Flags().GetString("metric")
		condition, _ := cmd.Flags().GetString("condition")
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		window, _ := cmd.Flags().GetInt("window")
		channels, _ := cmd.Flags().GetString("channels")
		severity, _ := cmd.Flags().GetString("severity")

		e, err := openEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.Close()

		rule := &models.AlertRule{
			ID:            "rule-" + uuid.NewString()[:8],
			UserID:        e.user(userFlag),
			Name:          args[0],
			Metric:        models.Metric(metric),
			Condition:     models.Condition(condition),
			Threshold:     threshold,
			WindowMinutes: window,
			Channels:      splitList(channels),
			Severity:      models.Severity(severity),
			Active:        true,
			CreatedAt:     time.Now(),
		}
		if err := e.rules.CreateRule(context.Background(), rule); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Created alert rule %s: %s %s %g\n", rule.ID, rule.Metric, rule.Condition, rule.Threshold)
	},
}

var alertsListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List alert rules and open firings",
	Aliases: []string{"ls"},
	Run: func(cmd *cobra.Command, args []string) {
		userFlag, _ := cmd.Flags().GetString("user")

		e, err := openEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.Close()
		ctx := context.Background()
		user := e.user(userFlag)

		rules, err := e.rules.ListRules(ctx, user)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(rules) == 0 {
			fmt.Println("No alert rules. Budget tiers appear after the first evaluation.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tRULE\tSEVERITY\tSTATE")
		for _, r := range rules {
			state := "ok"
			switch {
			case !r.Active:
				state = "inactive"
			case r.IsFiring:
				state = "FIRING"
			}
			fmt.Fprintf(w, "%s\t%s\t%s %s %g\t%s\t%s\n", r.ID, dash(r.Name), r.Metric, r.Condition, r.Threshold, r.Severity, state)
		}
		w.Flush()

		firings, err := e.rules.ListFirings(ctx, user)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		var open []*models.AlertFiring
		for _, f := range firings {
			if f.Open() {
				open = append(open, f)
			}
		}
		if len(open) == 0 {
			return
		}
		fmt.Println()
		fmt.Println(sectionStyle.Render("Open firings"))
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, f := range open {
			fmt.Fprintf(w, "  %s\t%s\tvalue %g, threshold %g\t%s\n", f.RuleID, f.Severity, f.Value, f.Threshold, f.FiredAt.Format(time.RFC3339))
		}
		w.Flush()
	},
}

var alertsRemoveCmd = &cobra.Command{
	Use:   "rm <rule-id>",
	Short: "Delete an alert rule",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.Close()

		if err := e.rules.DeleteRule(context.Background(), args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted alert rule %s\n", args[0])
	},
}

var alertsEvalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a user's alert rules against mission history",
	Run: func(cmd *cobra.Command, args []string) {
		userFlag, _ := cmd.Flags().GetString("user")

		e, err := openEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.Close()
		ctx := context.Background()
		user := e.user(userFlag)

		missions, err := e.missions.List(ctx, storage.MissionFilter{UserID: user})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		history := budget.History{Missions: missions, Allocated: e.cfg.Budget.AllocatedCredits, Now: time.Now()}
		snap := history.Over(e.cfg.Budget.Window())

		transitions, err := e.evaluator.Evaluate(ctx, user, history)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s budget %.1f%%  cost %.0f  error rate %.1f%%  queue %.0f  throughput %.2f/min\n",
			labelStyle.Render(user+":"), snap.BudgetUsage, snap.TotalCost, snap.ErrorRate, snap.QueueDepth, snap.Throughput)
		if len(transitions) == 0 {
			fmt.Println(mutedStyle.Render("no alert changes"))
			return
		}
		for _, t := range transitions {
			style := successStyle
			if t.Event == budget.EventFired {
				style = warningStyle
			}
			fmt.Printf("  %s %s (%s %g, threshold %g)\n", style.Render(t.Event), dash(t.RuleName), t.Metric, t.Value, t.Threshold)
		}
	},
}

var alertsInboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Show in-app notifications",
	Run: func(cmd *cobra.Command, args []string) {
		userFlag, _ := cmd.Flags().GetString("user")
		all, _ := cmd.Flags().GetBool("all")
		markRead, _ := cmd.Flags().GetString("read")

		e, err := openEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.Close()

		if e.inbox == nil {
			fmt.Fprintln(os.Stderr, "Error: inbox channel disabled in config")
			os.Exit(1)
		}

		if markRead != "" {
			if err := e.inbox.MarkRead(markRead); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Marked %s read\n", markRead)
			return
		}

		items, err := e.inbox.List(userFlag, !all)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(items) == 0 {
			fmt.Println("Inbox empty.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tWHEN\tSEVERITY\tTITLE\tMESSAGE")
		for _, item := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", item.ID, item.CreatedAt.Format("01-02 15:04"), dash(item.Severity), item.Title, item.Message)
		}
		w.Flush()
	},
}

func init() {
	alertsAddCmd.Flags().StringP("user", "u", "", "Rule owner (default from config)")
	alertsAddCmd.Flags().StringP("metric", "m", string(models.MetricTotalCost), "budget_usage, error_rate, queue_depth, throughput or total_cost")
	alertsAddCmd.Flags().StringP("condition", "c", string(models.ConditionGTE), "gt, gte, lt or lte")
	alertsAddCmd.Flags().Float64P("threshold", "t", 0, "Threshold the metric is compared against")
	alertsAddCmd.Flags().Int("window", 60, "Window in minutes for rate metrics")
	alertsAddCmd.Flags().String("channels", "", "Comma-separated channels (default from config)")
	alertsAddCmd.Flags().StringP("severity", "s", string(models.SeverityWarning), "info, warning or critical")
	alertsAddCmd.MarkFlagRequired("threshold")

	alertsListCmd.Flags().StringP("user", "u", "", "Rule owner (default from config)")
	alertsEvalCmd.Flags().StringP("user", "u", "", "User to evaluate (default from config)")

	alertsInboxCmd.Flags().StringP("user", "u", "", "Only this user's notifications")
	alertsInboxCmd.Flags().BoolP("all", "a", false, "Include read notifications")
	alertsInboxCmd.Flags().String("read", "", "Mark a notification read by id")

	alertsCmd.AddCommand(alertsAddCmd)
	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsRemoveCmd)
	alertsCmd.AddCommand(alertsEvalCmd)
	alertsCmd.AddCommand(alertsInboxCmd)
	rootCmd.AddCommand(alertsCmd)
}
