package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localforge/localforge/pkg/config"
	"github.com/localforge/localforge/pkg/engine"
	"github.com/localforge/localforge/pkg/engine/backends/gguf"
	"github.com/localforge/localforge/pkg/engine/backends/safetensors"
	"github.com/localforge/localforge/pkg/model"
)

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe [model]",
		Short: "Re-probe GPU backend availability, or clear the fault count of a model resident in this process",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, args)
		},
	}
	return cmd
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv(config.Default())

	backends := map[model.Format]engine.Backend{
		model.Gguf:        gguf.New(),
		model.SafeTensors: safetensors.New(),
	}
	dispatcher := engine.NewDispatcher(log, backends, 0, cfg.MaxConcurrentGenerations)

	gpuBackend, err := dispatcher.ResolveGpu(cfg.GPUBackend)
	if err != nil {
		return &CLIError{Code: ExitBackendUnavailable, Err: err}
	}
	cmd.Printf("resolved gpu backend: %s\n", gpuBackend.String())

	if len(args) == 0 {
		return nil
	}

	name := args[0]
	if dispatcher.ClearFaults(name) {
		cmd.Printf("cleared fault count for %s\n", name)
		return nil
	}
	return &CLIError{Code: ExitModelNotFound, Err: fmt.Errorf("probe: %s is not resident", name)}
}
