package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/plumb/engine"
	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/execution"
	"github.com/teranos/plumb/pipeline"
	"github.com/teranos/plumb/service"
)

// PipelineCmd groups pipeline definition commands
var PipelineCmd = &cobra.Command{
	Use:     "pipeline",
	Aliases: []string{"pl"},
	Short:   "Create, inspect, version and run pipelines",
	Long: `Manage pipeline definitions.

Definitions are read from JSON, YAML or TOML files. Changing the source,
destination or transformations bumps the patch version.

Examples:
  plumb pipeline ls
  plumb pipeline create -f sales.yaml
  plumb pipeline update pl_3xk2 -f patch.json
  plumb pipeline run pl_3xk2 --dry-run
  plumb pipeline rollback pl_3xk2 1.0.0`,
}

var pipelineLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List pipelines",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *service.Service) error {
			ps, err := svc.ListPipelines(ctx)
			if err != nil {
				return err
			}
			if jsonOut(cmd) {
				return printJSON(ps)
			}
			if len(ps) == 0 {
				pterm.Info.Println("No pipelines")
				return nil
			}
			data := pterm.TableData{{"ID", "NAME", "STATUS", "VERSION", "STAGES", "LAST RUN", "NEXT RUN"}}
			for _, p := range ps {
				data = append(data, []string{
					p.ID, p.Name, string(p.Status), p.Version,
					strconv.Itoa(len(p.Stages())), formatTime(p.LastRun), formatTime(p.NextRun),
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		})
	},
}

var pipelineShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a pipeline definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *service.Service) error {
			p, err := svc.GetPipeline(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(p)
		})
	},
}

var pipelineCreateCmd = &cobra.Command{
	Use:   "create -f <file>",
	Short: "Create a pipeline from a definition file",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return errors.New("--file is required")
		}
		var def pipeline.Definition
		if err := decodeFile(file, &def); err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, svc *service.Service) error {
			p, err := svc.CreatePipeline(ctx, def)
			if err != nil {
				return err
			}
			pterm.Success.Printf("Created pipeline %s (%s) at version %s\n", p.ID, p.Name, p.Version)
			return nil
		})
	},
}

var pipelineUpdateCmd = &cobra.Command{
	Use:   "update <id> -f <file>",
	Short: "Apply a patch file to a pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return errors.New("--file is required")
		}
		var patch pipeline.Patch
		if err := decodeFile(file, &patch); err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, svc *service.Service) error {
			p, err := svc.UpdatePipeline(ctx, args[0], patch)
			if err != nil {
				return err
			}
			pterm.Success.Printf("Updated pipeline %s, now at version %s\n", p.ID, p.Version)
			return nil
		})
	},
}

var pipelineDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a pipeline and its executions",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *service.Service) error {
			deleted, err := svc.DeletePipeline(ctx, args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return errors.NewNotFoundError("pipeline %s", args[0])
			}
			pterm.Success.Printf("Deleted pipeline %s\n", args[0])
			return nil
		})
	},
}

var pipelineRollbackCmd = &cobra.Command{
	Use:   "rollback <id> <version>",
	Short: "Point a pipeline at an earlier version label",
	Long: `Point a pipeline at an earlier version label.

Only the version label changes: field values are not restored because the
history records version strings, not snapshots.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *service.Service) error {
			p, err := svc.RollbackPipeline(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			pterm.Success.Printf("Pipeline %s now at version %s\n", p.ID, p.Version)
			return nil
		})
	},
}

var pipelineRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Run a pipeline and wait for it to finish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return withService(cmd, func(ctx context.Context, svc *service.Service) error {
			id, err := svc.ExecutePipeline(ctx, args[0], engine.Options{DryRun: dryRun})
			if err != nil {
				return err
			}

			spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Running execution %s...", id))
			if err := svc.WaitExecution(ctx, id); err != nil {
				spinner.Fail(err.Error())
				return err
			}

			e, err := svc.GetExecution(ctx, id)
			if err != nil {
				spinner.Fail(err.Error())
				return err
			}
			summary := fmt.Sprintf("Execution %s %s: %d processed, %d failed in %dms",
				e.ID, e.Status, e.RecordsProcessed, e.RecordsFailed, e.Duration().Milliseconds())
			if e.Status != execution.StatusCompleted {
				spinner.Fail(summary)
				printExecutionErrors(e)
				return errors.Newf("execution %s", e.Status)
			}
			spinner.Success(summary)
			return nil
		})
	},
}

var pipelineHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show the version history of a pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *service.Service) error {
			p, err := svc.GetPipeline(ctx, args[0])
			if err != nil {
				return err
			}
			for _, v := range p.VersionHistory {
				marker := "  "
				if v == p.Version {
					marker = "* "
				}
				fmt.Println(marker + v)
			}
			return nil
		})
	},
}

func jsonOut(cmd *cobra.Command) bool {
	out, _ := cmd.Flags().GetBool("json")
	return out
}

func printExecutionErrors(e *execution.Execution) {
	for _, execErr := range e.Errors {
		where := ""
		if execErr.Stage != "" {
			where = " [" + execErr.Stage + "]"
		}
		pterm.Error.Printf("%s%s: %s\n", execErr.Kind, where, strings.TrimSpace(execErr.Message))
	}
}

func init() {
	pipelineLsCmd.Flags().Bool("json", false, "Output as JSON")
	pipelineCreateCmd.Flags().StringP("file", "f", "", "Definition file (.json, .yaml, .toml)")
	pipelineUpdateCmd.Flags().StringP("file", "f", "", "Patch file (.json, .yaml, .toml)")
	pipelineRunCmd.Flags().Bool("dry-run", false, "Run every step except the load")

	PipelineCmd.AddCommand(pipelineLsCmd)
	PipelineCmd.AddCommand(pipelineShowCmd)
	PipelineCmd.AddCommand(pipelineCreateCmd)
	PipelineCmd.AddCommand(pipelineUpdateCmd)
	PipelineCmd.AddCommand(pipelineDeleteCmd)
	PipelineCmd.AddCommand(pipelineRollbackCmd)
	PipelineCmd.AddCommand(pipelineRunCmd)
	PipelineCmd.AddCommand(pipelineHistoryCmd)
}
