package commands

import (
	"github.com/spf13/cobra"

	"github.com/localforge/localforge/pkg/config"
	"github.com/localforge/localforge/pkg/discovery"
)

func newDiscoverCmd() *cobra.Command {
	var modelDirs []string
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Print the resolved model search paths and scan summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd, modelDirs)
		},
	}
	cmd.Flags().StringSliceVar(&modelDirs, "model-dirs", nil, "directories to search for models")
	return cmd
}

func runDiscover(cmd *cobra.Command, modelDirs []string) error {
	cfg := config.FromEnv(config.Default())
	if len(modelDirs) > 0 {
		cfg.ModelDirs = modelDirs
	}

	paths := discovery.SearchPaths(cfg.ModelDirs)
	cmd.Println("search paths:")
	for _, p := range paths {
		cmd.Printf("  %s\n", p)
	}

	entries := discovery.Scan(paths, log)
	cmd.Printf("found %d model(s)\n", len(entries))
	for _, e := range entries {
		adapters := ""
		if len(e.LoraCandidates) > 0 {
			adapters = " (+lora)"
		}
		cmd.Printf("  %-30s %-12s %s%s\n", e.Name, e.Format.String(), e.Path, adapters)
	}
	return nil
}
