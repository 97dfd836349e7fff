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
	"github.com/teranos/chainable/sym"
)

// UsageCmd summarises model requests recorded by every run
var UsageCmd = &cobra.Command{
	Use:   "usage",
	Short: sym.Short("usage"),
	Long: `Show model requests, tokens and estimated cost recorded by chain runs.

Examples:
  chainable usage                  # Last 24 hours
  chainable usage --since 168h     # Last week
  chainable usage --run <run-id>   # One run
  chainable usage --json           # Machine-readable`,
	RunE: runUsage,
}

var (
	usageSinceFlag time.Duration
	usageRunFlag   string
)

func init() {
	UsageCmd.Flags().DurationVar(&usageSinceFlag, "since", 24*time.Hour, "How far back to look")
	UsageCmd.Flags().StringVar(&usageRunFlag, "run", "", "Only count requests of this run")
}

// usageReport is the JSON shape of 'usage'
type usageReport struct {
	Since  time.Time                 `json:"since"`
	Stats  *tracker.UsageStats       `json:"stats"`
	Models []tracker.ModelBreakdown  `json:"models"`
	Daily  []tracker.TimeSeriesPoint `json:"daily"`
}

func runUsage(cmd *cobra.Command, args []string) error {
	if usageSinceFlag <= 0 {
		return errors.NewInvalidRequestError("--since must be positive, got %s", usageSinceFlag)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	filter := tracker.Filter{Since: time.Now().Add(-usageSinceFlag)}
	if usageRunFlag != "" {
		filter.EntityType = "chain"
		filter.EntityID = usageRunFlag
	}

	t := tracker.NewUsageTracker(database, logger.ComponentLogger("tracker"))
	report := usageReport{Since: filter.Since.UTC()}
	if report.Stats, err = t.GetUsageStats(filter); err != nil {
		return err
	}
	if report.Models, err = t.GetModelBreakdown(filter); err != nil {
		return err
	}
	if report.Daily, err = t.GetTimeSeriesData(filter); err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(report)
	}

	out := cmd.OutOrStdout()
	stats := report.Stats
	pterm.DefaultSection.WithWriter(out).Printfln("Usage since %s", filter.Since.Local().Format(time.DateTime))
	fmt.Fprintf(out, "Requests:     %d (%.0f%% successful)\n", stats.TotalRequests, stats.SuccessRate*100)
	fmt.Fprintf(out, "Tokens:       %d\n", stats.TotalTokens)
	fmt.Fprintf(out, "Cost:         $%.4f\n", stats.TotalCost)
	fmt.Fprintf(out, "Models:       %d\n", stats.UniqueModels)

	if len(report.Models) > 0 {
		fmt.Fprintln(out)
		data := pterm.TableData{{"Model", "Provider", "Requests", "Tokens", "Cost", "Avg ms"}}
		for _, m := range report.Models {
			avg := "-"
			if m.AvgResponseTimeMs != nil {
				avg = fmt.Sprintf("%.0f", *m.AvgResponseTimeMs)
			}
			data = append(data, []string{
				m.ModelName,
				m.ModelProvider,
				fmt.Sprint(m.RequestCount),
				fmt.Sprint(m.TotalTokens),
				fmt.Sprintf("$%.4f", m.TotalCost),
				avg,
			})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithWriter(out).WithData(data).Render(); err != nil {
			return err
		}
	}

	if len(report.Daily) > 1 {
		fmt.Fprintln(out)
		for _, p := range report.Daily {
			fmt.Fprintf(out, "%s  %4d requests  $%.4f\n", p.Date, p.Requests, p.Cost)
		}
	}
	return nil
}
