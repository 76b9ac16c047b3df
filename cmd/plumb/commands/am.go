package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/plumb/am"
	"github.com/teranos/plumb/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage plumb configuration",
	Long: `Display and manage plumb configuration.

Configuration sources (in order of precedence):
1. Environment variables (PLUMB_* prefix)
2. Project config (./am.toml, searched up from the working directory)
3. User config (~/.plumb/am.toml)
4. System config (/etc/plumb/config.toml)
5. Default values

Examples:
  plumb am show                     # Show current configuration
  plumb am show --format json       # Show configuration in JSON format
  plumb am get engine.workers       # Get a specific value
  plumb am set engine.workers 8     # Persist a value to ~/.plumb/am.toml
  plumb am validate                 # Validate current configuration
  plumb am sources                  # Show which layer set each value`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, engine.workers)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value",
	Long:  "Write a value into the user config file. Numbers and booleans are stored typed.",
	Args:  cobra.ExactArgs(2),
	RunE:  runAmSet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runAmWhere,
}

var amSourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show every effective setting and where it came from",
	RunE:  runAmSources,
}

var (
	configFormat string
	setFile      string
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amSetCmd.Flags().StringVar(&setFile, "file", "", "Config file to write (default: ~/.plumb/am.toml)")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amSetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amSourcesCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Println(string(data))
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Printf("# plumb configuration\n%s", string(data))
	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Printf("# plumb configuration\n%s", string(data))
	default:
		return errors.Newf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	v := am.GetViper()
	if !v.IsSet(key) {
		return errors.Newf("configuration key %q not found", key)
	}
	fmt.Println(v.Get(key))
	return nil
}

func runAmSet(cmd *cobra.Command, args []string) error {
	path := setFile
	if path == "" {
		path = am.UserConfigPath()
	}
	if path == "" {
		return errors.New("cannot determine user config path; pass --file")
	}

	if err := am.SetValue(path, args[0], typedValue(args[1])); err != nil {
		return err
	}
	if _, err := am.LoadFromFile(path); err != nil {
		pterm.Warning.Printf("%s now fails validation: %v\n", path, err)
	}
	pterm.Success.Printf("Set %s in %s\n", args[0], path)
	return nil
}

// typedValue keeps integers, floats and booleans typed in TOML
func typedValue(raw string) interface{} {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	pterm.Success.Println("Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  [DEFAULT]  Built-in defaults")
	for _, path := range am.ConfigPaths() {
		state := "missing"
		if _, err := os.Stat(path); err == nil {
			state = "loaded"
		}
		fmt.Printf("  [%-7s]  %s\n", state, path)
	}
	fmt.Println("  [ENV]      PLUMB_* environment variables")
	return nil
}

func runAmSources(cmd *cobra.Command, args []string) error {
	settings, err := am.Introspect()
	if err != nil {
		return err
	}
	data := pterm.TableData{{"KEY", "VALUE", "SOURCE", "FROM"}}
	for _, s := range settings {
		data = append(data, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.Path})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
