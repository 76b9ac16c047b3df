package commands

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/plumb/health"
	"github.com/teranos/plumb/service"
)

// HealthCmd scores a pipeline by its recent executions
var HealthCmd = &cobra.Command{
	Use:   "health <pipeline-id>",
	Short: "Score a pipeline by its recent executions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *service.Service) error {
			r, err := svc.GetHealth(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOut(cmd) {
				return printJSON(r)
			}

			printer := pterm.Success
			switch r.Status {
			case health.StatusCritical:
				printer = pterm.Error
			case health.StatusWarning, health.StatusDegraded:
				printer = pterm.Warning
			case health.StatusNoExecutions:
				printer = pterm.Info
			}
			printer.Printf("%s: %s (score %d, %d runs, %d failed in the last %s)\n",
				r.PipelineID, r.Status, r.Score, r.Total, r.Failed, r.Window)
			for _, issue := range r.Issues {
				fmt.Println("  - " + issue)
			}
			return nil
		})
	},
}

func init() {
	HealthCmd.Flags().Bool("json", false, "Output as JSON")
}
