package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/waterline/internal/cli/ui"
	"github.com/conduit-lang/waterline/internal/orm/schema"
)

// NewValidateCommand creates the validate command
func NewValidateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the models and check that every one binds to an adapter",
		Long: `Load waterline.yml and every model file, build the schema registry, bind each
model to its adapter and register the models with their adapters.

Prints each model with its adapter and associations, then the dependency report:
the order in which models can be created so every many-to-one target exists
first, and any cycles that make such an order impossible.

Examples:
  waterline validate
  waterline validate --dir ./app`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, flags.projectDir(), flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.close(ctx)

			out := cmd.OutOrStdout()
			registry := s.ontology.Registry()

			ui.Header(out, "Models", flags.noColor)
			table := ui.NewTable(out, flags.noColor, "IDENTITY", "ADAPTER", "PRIMARY KEY", "ASSOCIATIONS")
			for _, c := range s.ontology.Collections() {
				model := c.Model()
				table.AddRow(model.Identity, s.ontology.AdapterName(model.Identity), model.PrimaryKey, describeAssociations(model))
			}
			table.Render()
			fmt.Fprintln(out)

			report := registry.AnalyzeDependencies()
			if report.HasCycles {
				fmt.Fprint(out, ui.Warning("many-to-one associations form a cycle; no creation order satisfies every reference", flags.noColor))
			}
			ui.Header(out, "Dependencies", flags.noColor)
			fmt.Fprintln(out, report.String())

			stats := registry.GetStats()
			fmt.Fprintf(out, "%d attributes, %d associations, %d unique, %d with toJSON\n\n",
				stats.TotalAttributes, stats.TotalAssociations, stats.TotalUnique, stats.ModelsWithToJSON)

			ui.WriteSuccess(out, fmt.Sprintf("%d models valid", registry.Count()), flags.noColor)
			return nil
		},
	}
}

func describeAssociations(model *schema.Model) string {
	var parts []string
	for _, attr := range model.Associations() {
		switch attr.Kind {
		case schema.KindCollection:
			parts = append(parts, fmt.Sprintf("%s: [%s] via %s", attr.Name, attr.Target, attr.Via))
		case schema.KindModel:
			parts = append(parts, fmt.Sprintf("%s: %s", attr.Name, attr.Target))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
