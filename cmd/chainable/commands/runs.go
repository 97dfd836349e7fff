package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/chainable/ai/tracker"
	"github.com/teranos/chainable/display"
	"github.com/teranos/chainable/errors"
	"github.com/teranos/chainable/logger"
	"github.com/teranos/chainable/sink"
	"github.com/teranos/chainable/sym"
)

// RunsCmd inspects runs recorded with --store or output.store_runs
var RunsCmd = &cobra.Command{
	Use:   "runs",
	Short: sym.Short("runs"),
	Long: `Inspect chain runs recorded in the database.

Runs are stored when 'chainable run' is given --store or when
output.store_runs is enabled in am.toml.

Examples:
  chainable runs ls                 # List recent runs
  chainable runs ls --limit 50      # List more runs
  chainable runs show <run-id>      # Show a run's chapters and usage
  chainable runs show run:<run-id>  # Artifact locations are accepted too`,
}

var runsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recent runs",
	RunE:  runRunsLs,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a stored run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsLimitFlag int

func init() {
	runsLsCmd.Flags().IntVar(&runsLimitFlag, "limit", 20, "Number of runs to list")

	RunsCmd.AddCommand(runsLsCmd)
	RunsCmd.AddCommand(runsShowCmd)
}

func runRunsLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := sink.NewRunStore(database, logger.ComponentLogger("store")).ListRuns(cmd.Context(), runsLimitFlag)
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		if runs == nil {
			runs = []sink.Run{}
		}
		return display.OutputJSON(runs)
	}

	if len(runs) == 0 {
		pterm.Info.Println("No stored runs")
		return nil
	}

	data := pterm.TableData{{"ID", "Name", "Steps", "Failed", "Created"}}
	for _, r := range runs {
		data = append(data, []string{
			r.ID,
			r.Name,
			fmt.Sprint(r.StepCount),
			fmt.Sprint(r.FailedCount),
			r.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(cmd.OutOrStdout()).WithData(data).Render()
}

// runDetail is the JSON shape of 'runs show'
type runDetail struct {
	*sink.Run
	Usage *tracker.UsageStats `json:"usage"`
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	run, err := sink.NewRunStore(database, logger.ComponentLogger("store")).GetRun(cmd.Context(), args[0])
	if err != nil {
		if errors.IsNotFoundError(err) {
			return errors.WithHint(err, "list stored runs with 'chainable runs ls'")
		}
		return err
	}

	usage, err := tracker.NewUsageTracker(database, logger.ComponentLogger("tracker")).GetUsageStats(tracker.Filter{
		EntityType: "chain",
		EntityID:   run.ID,
	})
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(runDetail{Run: run, Usage: usage})
	}

	out := cmd.OutOrStdout()
	pterm.DefaultSection.WithWriter(out).Println(run.Name)
	fmt.Fprintf(out, "Run:      %s\n", run.ID)
	fmt.Fprintf(out, "Created:  %s\n", run.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "Steps:    %d (%d failed)\n", run.StepCount, run.FailedCount)
	if run.Location != "" {
		fmt.Fprintf(out, "Output:   %s\n", run.Location)
	}
	if usage.TotalRequests > 0 {
		fmt.Fprintf(out, "Requests: %d (%d ok), %d tokens, $%.4f\n",
			usage.TotalRequests, usage.SuccessfulRequests, usage.TotalTokens, usage.TotalCost)
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, sink.Render(run.Entries()))
	return nil
}
