package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/chainable/display"
	"github.com/teranos/chainable/internal/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show chainable version information",
	Long: `Display version, build time, commit hash, and platform information for the chainable binary.

Chain files may pin a version range with 'requires'; this is the version they are checked against.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()

		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(info)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, info.String())
		fmt.Fprintf(out, "Platform: %s\n", info.Platform)
		fmt.Fprintf(out, "Go: %s\n", info.GoVersion)
		return nil
	},
}

func init() {
	VersionCmd.Flags().BoolP("json", "j", false, "Output version info as JSON")
}
