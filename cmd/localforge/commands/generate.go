package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localforge/localforge/pkg/config"
	"github.com/localforge/localforge/pkg/discovery"
	"github.com/localforge/localforge/pkg/engine"
	"github.com/localforge/localforge/pkg/engine/backends/gguf"
	"github.com/localforge/localforge/pkg/engine/backends/safetensors"
	"github.com/localforge/localforge/pkg/model"
	"github.com/localforge/localforge/pkg/registry"
	"github.com/localforge/localforge/pkg/templates"
)

type generateFlags struct {
	model       string
	prompt      string
	maxTokens   int
	temperature float64
	seed        int64
}

func newGenerateCmd() *cobra.Command {
	var flags generateFlags
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run a one-shot generation against a locally discovered model",
		Long: `generate loads a model in-process (no server required), runs a single
generation, and streams the output to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.model, "model", "", "model name, as reported by `localforge list`")
	cmd.Flags().StringVar(&flags.prompt, "prompt", "", "prompt text")
	cmd.Flags().IntVar(&flags.maxTokens, "max-tokens", 0, "maximum tokens to generate (default 256)")
	cmd.Flags().Float64Var(&flags.temperature, "temperature", 0, "sampling temperature (default 0.8)")
	cmd.Flags().Int64Var(&flags.seed, "seed", 0, "sampling seed (default: derived from model+prompt)")
	return cmd
}

func runGenerate(cmd *cobra.Command, flags generateFlags) error {
	if flags.model == "" {
		return usageErr("generate: --model is required")
	}
	if flags.prompt == "" {
		return usageErr("generate: --prompt is required")
	}

	cfg := config.FromEnv(config.Default())
	paths := discovery.SearchPaths(cfg.ModelDirs)
	entries := discovery.Scan(paths, log)

	reg := registry.New()
	reg.Refresh(entries, 4096)

	spec, err := reg.Get(flags.model)
	if err != nil {
		return &CLIError{Code: ExitModelNotFound, Err: err}
	}

	backends := map[model.Format]engine.Backend{
		model.Gguf:        gguf.New(),
		model.SafeTensors: safetensors.New(),
	}
	dispatcher := engine.NewDispatcher(log, backends, 0, 1)

	ctx := cmd.Context()
	gpuBackend, err := dispatcher.ResolveGpu(cfg.GPUBackend)
	if err != nil {
		return &CLIError{Code: ExitBackendUnavailable, Err: err}
	}

	lm, err := dispatcher.Acquire(ctx, spec, gpuBackend, cfg.Moe)
	if err != nil {
		return &CLIError{Code: ExitBackendUnavailable, Err: err}
	}
	defer dispatcher.Release(lm)

	tmplFamily := templates.InferFamily(spec.BasePath)
	if spec.Template != "" {
		if f, ok := templates.ParseFamily(spec.Template); ok {
			tmplFamily = f
		}
	}
	tmpl := templates.New(tmplFamily)
	prompt := tmpl.Render([]templates.Message{{Role: "user", Content: flags.prompt}})

	opts := model.DefaultGenOptions()
	if flags.maxTokens > 0 {
		opts.MaxTokens = flags.maxTokens
	}
	if flags.temperature > 0 {
		opts.Temperature = flags.temperature
	}
	if flags.seed != 0 {
		opts.Seed = flags.seed
	}
	opts.StopSequences = append(opts.StopSequences, tmpl.StopSequences()...)
	if err := opts.Validate(); err != nil {
		return usageErr("generate: %v", err)
	}

	outcome, err := dispatcher.Generate(ctx, lm, prompt, opts, nil, func(fragment string) {
		fmt.Fprint(cmd.OutOrStdout(), fragment)
	})
	if err != nil {
		return &CLIError{Code: ExitBackendUnavailable, Err: err}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n[%s, %d tokens]\n", outcome.StopReason, outcome.Tokens)
	return nil
}
