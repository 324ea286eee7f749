package commands

import (
	"github.com/spf13/cobra"

	"github.com/localforge/localforge/pkg/config"
	"github.com/localforge/localforge/pkg/server"
)

type serveFlags struct {
	bind          string
	modelDirs     []string
	gpuBackend    string
	cpuMoe        bool
	nCPUMoe       int
	allowedOrigin string
}

func newServeCmd() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the inference HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}
	addServeFlags(cmd, &flags)
	return cmd
}

func addServeFlags(cmd *cobra.Command, flags *serveFlags) {
	cmd.Flags().StringVar(&flags.bind, "bind", "", "bind address (host:port)")
	cmd.Flags().StringSliceVar(&flags.modelDirs, "model-dirs", nil, "directories to search for models")
	cmd.Flags().StringVar(&flags.gpuBackend, "gpu-backend", "", "auto|cpu|cuda|vulkan|opencl|metal")
	cmd.Flags().BoolVar(&flags.cpuMoe, "cpu-moe", false, "offload all MoE expert tensors to CPU")
	cmd.Flags().IntVar(&flags.nCPUMoe, "n-cpu-moe", 0, "offload the first N MoE layers to CPU")
	cmd.Flags().StringVar(&flags.allowedOrigin, "allowed-origins", "", "comma-separated CORS allowed origins")
}

func resolveConfig(flags serveFlags) config.ServerConfig {
	cfg := config.FromEnv(config.Default())
	cfg = config.ApplyFlags(cfg, flags.bind, flags.modelDirs, flags.gpuBackend, flags.cpuMoe, flags.nCPUMoe)
	if flags.allowedOrigin != "" {
		cfg.AllowedOrigins = config.ParseOrigins(flags.allowedOrigin)
	}
	return cfg
}

func runServe(cmd *cobra.Command, flags serveFlags) error {
	cfg := resolveConfig(flags)
	srv := server.New(log, cfg)
	return srv.Run(cmd.Context())
}
