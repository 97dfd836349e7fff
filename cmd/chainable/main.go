package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/chainable/cmd/chainable/commands"
	"github.com/teranos/chainable/errors"
	"github.com/teranos/chainable/logger"
)

var rootCmd = &cobra.Command{
	Use:   "chainable",
	Short: "chainable - run prompt chains against language models",
	Long: `chainable - run prompt chains against language models.

A chain is an ordered list of prompt templates. Each step is filled from the
chain's variables and the results of earlier steps, sent to a model, and the
replies are written out as numbered chapters.

Available commands:
  run     - Execute a chain file (local path or remote source)
  runs    - Inspect stored runs
  usage   - Show model usage and cost
  am      - Manage chainable configuration ("I am")
  version - Show version information

Examples:
  chainable run story.yaml --set name=Pip     # Run a chain with a variable
  chainable run github.com/acme/chains//story # Run a remote chain
  chainable runs ls                           # List stored runs
  chainable am show                           # Show current configuration`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		if err := logger.Initialize(jsonOutput, verbosity); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json", false, "Output JSON instead of terminal formatting")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.RunsCmd)
	rootCmd.AddCommand(commands.UsageCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		os.Exit(1)
	}
}
