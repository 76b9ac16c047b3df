package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/plumb/service"
)

// ExecutionCmd groups execution history commands
var ExecutionCmd = &cobra.Command{
	Use:     "execution",
	Aliases: []string{"ex"},
	Short:   "Inspect execution history",
}

var executionLsCmd = &cobra.Command{
	Use:   "ls <pipeline-id>",
	Short: "List executions of a pipeline, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *service.Service) error {
			es, err := svc.ListExecutionsByPipeline(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOut(cmd) {
				return printJSON(es)
			}
			if len(es) == 0 {
				pterm.Info.Printf("No executions for %s\n", args[0])
				return nil
			}
			data := pterm.TableData{{"ID", "STATUS", "VERSION", "STARTED", "DURATION", "PROCESSED", "FAILED"}}
			for _, e := range es {
				status := string(e.Status)
				if e.DryRun {
					status += " (dry run)"
				}
				start := e.StartTime
				data = append(data, []string{
					e.ID, status, e.PipelineVersion, formatTime(&start),
					fmt.Sprintf("%dms", e.Duration().Milliseconds()),
					strconv.Itoa(e.RecordsProcessed), strconv.Itoa(e.RecordsFailed),
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		})
	},
}

var executionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an execution with its logs and errors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *service.Service) error {
			e, err := svc.GetExecution(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOut(cmd) {
				return printJSON(e)
			}

			pterm.DefaultSection.Printf("Execution %s", e.ID)
			fmt.Printf("Pipeline:  %s (version %s)\n", e.PipelineID, e.PipelineVersion)
			fmt.Printf("Status:    %s\n", e.Status)
			fmt.Printf("Dry run:   %t\n", e.DryRun)
			start := e.StartTime
			fmt.Printf("Started:   %s\n", formatTime(&start))
			fmt.Printf("Ended:     %s\n", formatTime(e.EndTime))
			fmt.Printf("Records:   %d processed, %d failed\n", e.RecordsProcessed, e.RecordsFailed)

			if len(e.Logs) > 0 {
				pterm.DefaultSection.Println("Logs")
				for _, entry := range e.Logs {
					ts := entry.Timestamp
					fmt.Printf("%s %-5s %s\n", formatTime(&ts), entry.Level, entry.Message)
				}
			}
			if len(e.Errors) > 0 {
				pterm.DefaultSection.Println("Errors")
				printExecutionErrors(e)
			}
			return nil
		})
	},
}

func init() {
	executionLsCmd.Flags().Bool("json", false, "Output as JSON")
	executionShowCmd.Flags().Bool("json", false, "Output as JSON")

	ExecutionCmd.AddCommand(executionLsCmd)
	ExecutionCmd.AddCommand(executionShowCmd)
}
