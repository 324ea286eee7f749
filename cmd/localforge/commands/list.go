package commands

import (
	units "github.com/docker/go-units"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/localforge/localforge/pkg/config"
	"github.com/localforge/localforge/pkg/discovery"
)

func newListCmd() *cobra.Command {
	var modelDirs []string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List discoverable models",
		Long: `List every model localforge would register at startup, without starting
the server.

Examples:
  localforge list
  localforge ls --model-dirs /srv/models`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, modelDirs)
		},
	}
	cmd.Flags().StringSliceVar(&modelDirs, "model-dirs", nil, "directories to search for models")
	return cmd
}

func runList(cmd *cobra.Command, modelDirs []string) error {
	cfg := config.FromEnv(config.Default())
	if len(modelDirs) > 0 {
		cfg.ModelDirs = modelDirs
	}

	paths := discovery.SearchPaths(cfg.ModelDirs)
	entries := discovery.Scan(paths, log)

	if len(entries) == 0 {
		cmd.Println("No models found")
		return nil
	}

	table := tablewriter.NewTable(cmd.OutOrStdout(),
		tablewriter.WithHeader([]string{"NAME", "FORMAT", "SIZE", "SOURCE"}),
	)
	for _, e := range entries {
		table.Append([]string{
			e.Name,
			e.Format.String(),
			units.HumanSize(float64(e.SizeBytes)),
			e.SourceTag,
		})
	}
	table.Render()
	return nil
}
