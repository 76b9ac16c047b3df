package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/plumb/cmd/plumb/commands"
	"github.com/teranos/plumb/logger"
)

var rootCmd = &cobra.Command{
	Use:   "plumb",
	Short: "plumb - ETL pipeline definitions and execution",
	Long: `plumb - define, version and run ETL pipelines.

A pipeline extracts records from a source, applies ordered transformation
stages and loads the result into a destination. Every run is recorded as an
execution with logs and errors.

Available commands:
  am        - Manage plumb configuration
  pipeline  - Create, inspect, version and run pipelines
  execution - Inspect execution history
  template  - List and instantiate pipeline templates
  health    - Score a pipeline by its recent executions
  server    - Serve the HTTP API
  version   - Show version information

Examples:
  plumb pipeline create -f sales.yaml
  plumb pipeline run pl_3xk2 --dry-run
  plumb template instantiate csv-to-database -p csv_path=in.csv -p database_path=out.db -p table=rows
  plumb server`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		if err := logger.InitializeWithLevel(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: /etc/plumb/config.toml, ~/.plumb/am.toml, ./am.toml)")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.PipelineCmd)
	rootCmd.AddCommand(commands.ExecutionCmd)
	rootCmd.AddCommand(commands.TemplateCmd)
	rootCmd.AddCommand(commands.HealthCmd)
	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
