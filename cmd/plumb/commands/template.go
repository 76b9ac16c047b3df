package commands

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/plumb/service"
)

// TemplateCmd groups pipeline template commands
var TemplateCmd = &cobra.Command{
	Use:     "template",
	Aliases: []string{"tpl"},
	Short:   "List and instantiate pipeline templates",
	Long: `List and instantiate pipeline templates.

Templates come built in and from templates.dir in the configuration. A file
in that directory replaces a built-in template with the same id.

Examples:
  plumb template ls
  plumb template show api-to-file
  plumb template instantiate api-to-file -p url=https://example.com/items -p output_path=items.json`,
}

var templateLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *service.Service) error {
			ts, err := svc.ListTemplates(ctx)
			if err != nil {
				return err
			}
			data := pterm.TableData{{"ID", "NAME", "CATEGORY", "PARAMETERS"}}
			for _, t := range ts {
				data = append(data, []string{t.ID, t.Name, t.Category, fmt.Sprint(len(t.Parameters))})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		})
	},
}

var templateShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a template and its parameters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *service.Service) error {
			t, err := svc.GetTemplate(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOut(cmd) {
				return printJSON(t)
			}

			pterm.DefaultSection.Printf("%s (%s)", t.Name, t.ID)
			if t.Description != "" {
				fmt.Println(t.Description)
			}
			data := pterm.TableData{{"PARAMETER", "TYPE", "REQUIRED", "DEFAULT", "DESCRIPTION"}}
			for _, p := range t.Parameters {
				def := ""
				if p.Default != nil {
					def = fmt.Sprint(p.Default)
				}
				data = append(data, []string{p.Name, string(p.Type), fmt.Sprint(p.Required), def, p.Description})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		})
	},
}

var templateInstantiateCmd = &cobra.Command{
	Use:   "instantiate <id>",
	Short: "Create a pipeline from a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetStringArray("param")
		params, err := parseParams(raw)
		if err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, svc *service.Service) error {
			p, err := svc.InstantiateFromTemplate(ctx, args[0], params)
			if err != nil {
				return err
			}
			pterm.Success.Printf("Created pipeline %s (%s) from template %s\n", p.ID, p.Name, args[0])
			return nil
		})
	},
}

func init() {
	templateShowCmd.Flags().Bool("json", false, "Output as JSON")
	templateInstantiateCmd.Flags().StringArrayP("param", "p", nil, "Template parameter as key=value (repeatable)")

	TemplateCmd.AddCommand(templateLsCmd)
	TemplateCmd.AddCommand(templateShowCmd)
	TemplateCmd.AddCommand(templateInstantiateCmd)
}
