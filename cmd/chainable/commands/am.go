package commands

import (
	"fmt"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/chainable/am"
	"github.com/teranos/chainable/display"
	"github.com/teranos/chainable/errors"
	"github.com/teranos/chainable/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.Short("am"),
	Long: sym.AM + ` am - Manage chainable configuration ("I am")

Display and manage chainable configuration settings.

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (CHAINABLE_* prefix, plus OPENAI_API_KEY,
   OPENROUTER_API_KEY and ANTHROPIC_API_KEY)
3. Project config (nearest ./am.toml, searching up directories)
4. User config (~/.chainable/am.toml)
5. System config (/etc/chainable/am.toml)
6. Default values

API keys are masked in all output.

Examples:
  chainable am show                       # Show current configuration
  chainable am show --format json         # Show configuration in JSON format
  chainable am get chain.provider         # Get specific config value
  chainable am set chain.provider local   # Write a value to ~/.chainable/am.toml
  chainable am validate                   # Validate current configuration
  chainable am where                      # Show where each value comes from`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current chainable configuration merged from all sources",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., chain.provider, output.dir)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in a config file (default ~/.chainable/am.toml).

The value is typed automatically: true/false, integers and floats are stored
as such, anything else as a string. The result is validated before it is
written and the previous file is kept as am.toml.back1 (up to three backups).`,
	Args: cobra.ExactArgs(2),
	RunE: runAmSet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Long:  "Validate that the current chainable configuration is valid",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	Long: `Show the configuration cascade and where every setting comes from.

Lists all configuration sources in order of precedence, grouping the
settings by the file or environment that provided them.`,
	RunE: runAmWhere,
}

var (
	configFormat string
	setFileFlag  string
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amSetCmd.Flags().StringVar(&setFileFlag, "file", "", "Config file to write (default ~/.chainable/am.toml)")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amSetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	redacted := cfg.Redacted()

	out := cmd.OutOrStdout()
	switch configFormat {
	case "json":
		data, err := display.MarshalJSON(redacted)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Fprintln(out, string(data))

	case "yaml":
		data, err := yaml.Marshal(redacted)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Fprintf(out, "# chainable configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(redacted)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Fprintf(out, "# chainable configuration\n%s", string(data))

	default:
		return errors.NewInvalidRequestError("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	value, err := am.Get(key)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return errors.WithHint(err, "run 'chainable am show' to list keys")
		}
		return err
	}
	if am.IsSensitiveKey(key) {
		value = am.Redact(fmt.Sprint(value))
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(map[string]interface{}{"key": key, "value": value})
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runAmSet(cmd *cobra.Command, args []string) error {
	path := setFileFlag
	if path == "" {
		path = am.UserConfigPath()
	}

	if err := am.SetValue(path, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s set in %s\n", args[0], path)
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	intro, err := am.GetConfigIntrospection()
	if err != nil {
		return errors.Wrap(err, "failed to get config introspection")
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(intro)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration cascade (later overrides earlier):")
	fmt.Fprintln(out, "  1. [DEFAULT]  Built-in defaults")
	fmt.Fprintf(out, "  2. [SYSTEM]   %s\n", am.SystemConfigPath)
	fmt.Fprintln(out, "  3. [USER]     ~/.chainable/am.toml")
	fmt.Fprintln(out, "  4. [PROJECT]  ./am.toml (searches up directories)")
	fmt.Fprintln(out, "  5. [ENV]      CHAINABLE_* and provider API key variables")
	fmt.Fprintln(out)

	// Group settings by the file (or variable) that supplied them
	type group struct {
		source   am.ConfigSource
		label    string
		settings []am.SettingInfo
	}
	groups := map[string]*group{}
	for _, setting := range intro.Settings {
		key := string(setting.Source) + "|" + setting.SourcePath
		if setting.Source == am.SourceEnvironment || setting.Source == am.SourceDefault {
			key = string(setting.Source)
		}
		g, ok := groups[key]
		if !ok {
			g = &group{source: setting.Source, label: setting.SourcePath}
			groups[key] = g
		}
		g.settings = append(g.settings, setting)
	}

	order := map[am.ConfigSource]int{
		am.SourceDefault:     0,
		am.SourceSystem:      1,
		am.SourceUser:        2,
		am.SourceProject:     3,
		am.SourceEnvironment: 4,
	}
	sorted := make([]*group, 0, len(groups))
	for _, g := range groups {
		sorted = append(sorted, g)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if order[sorted[i].source] != order[sorted[j].source] {
			return order[sorted[i].source] < order[sorted[j].source]
		}
		return sorted[i].label < sorted[j].label
	})

	fmt.Fprintln(out, "Active configuration:")
	for _, g := range sorted {
		switch g.source {
		case am.SourceDefault:
			fmt.Fprintf(out, "\n%s: %d settings\n", g.source, len(g.settings))
		case am.SourceEnvironment:
			fmt.Fprintf(out, "\n%s: %d settings from environment variables\n", g.source, len(g.settings))
		default:
			fmt.Fprintf(out, "\n%s: %d settings from %s\n", g.source, len(g.settings), g.label)
		}

		for _, setting := range g.settings {
			value := fmt.Sprintf("%v", setting.Value)
			if len(value) > 50 {
				value = value[:47] + "..."
			}
			if setting.Source == am.SourceEnvironment {
				fmt.Fprintf(out, "  %s = %s (%s)\n", setting.Key, value, setting.SourcePath)
				continue
			}
			fmt.Fprintf(out, "  %s = %s\n", setting.Key, value)
		}
	}

	return nil
}
