package commands

import (
	"github.com/spf13/cobra"

	"github.com/localforge/localforge/pkg/config"
	"github.com/localforge/localforge/pkg/engine"
	"github.com/localforge/localforge/pkg/engine/backends/gguf"
	"github.com/localforge/localforge/pkg/engine/backends/safetensors"
	"github.com/localforge/localforge/pkg/model"
)

func newGPUInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gpu-info",
		Short: "Print the resolved GPU backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGPUInfo(cmd)
		},
	}
	return cmd
}

func runGPUInfo(cmd *cobra.Command) error {
	cfg := config.FromEnv(config.Default())

	backends := map[model.Format]engine.Backend{
		model.Gguf:        gguf.New(),
		model.SafeTensors: safetensors.New(),
	}
	dispatcher := engine.NewDispatcher(log, backends, 0, cfg.MaxConcurrentGenerations)

	resolved, err := dispatcher.ResolveGpu(cfg.GPUBackend)
	if err != nil {
		return &CLIError{Code: ExitBackendUnavailable, Err: err}
	}

	cmd.Printf("requested: %s\n", cfg.GPUBackend.String())
	cmd.Printf("resolved:  %s\n", resolved.String())
	cmd.Printf("gpu layers: %d\n", resolved.GPULayers())
	return nil
}
