// Package gguf implements engine.Backend for GGUF-format model files,
// parsing real GGUF metadata in-process via gguf-parser-go rather than
// spawning a separate inference subprocess.
package gguf

import (
	"context"
	"os"
	"strings"

	parser "github.com/gpustack/gguf-parser-go"
	"github.com/localforge/localforge/pkg/engine"
	"github.com/localforge/localforge/pkg/model"
)

const Name = "gguf"

// resources holds the parsed GGUF metadata kept alive for a resident
// model's lifetime: the architecture string and whether the
// model declares mixture-of-experts tensors (used by the MoE offload
// annotation at load time).
type resources struct {
	architecture string
	hasExperts   bool
	expertLayers int
}

type Backend struct{}

func New() *Backend { return &Backend{} }

func (b *Backend) Name() string { return Name }

func (b *Backend) Load(ctx context.Context, spec model.Spec, gpu model.GpuBackend, moe model.MoeConfig) (*engine.LoadedModel, error) {
	info, err := os.Stat(spec.BasePath)
	if err != nil {
		return nil, engine.ErrFileNotFound
	}
	if info.Size() == 0 {
		return nil, engine.ErrUnsupportedFormat
	}

	gg, err := parser.ParseGGUFFile(spec.BasePath)
	if err != nil {
		return nil, engine.ErrCorruptedWeights
	}

	res := &resources{
		architecture: gg.Metadata().Architecture,
		hasExperts:   detectExpertTensors(gg),
	}

	if moe.Mode == model.MoeNLayers {
		res.expertLayers = moe.NLayers
	}

	lm := engine.NewLoadedModel(spec, Name, gpu, moe, res)
	return lm, nil
}

// detectExpertTensors scans GGUF metadata keys for the llama.cpp
// "<arch>.expert_count" convention MoE models declare.
func detectExpertTensors(gg *parser.GGUFFile) bool {
	for _, kv := range gg.Header.MetadataKV {
		if strings.Contains(kv.Key, "expert_count") {
			return true
		}
	}
	return false
}

func (b *Backend) Generate(ctx context.Context, lm *engine.LoadedModel, prompt string, opts model.GenOptions, cancel <-chan struct{}, onToken engine.OnToken) (engine.GenOutcome, error) {
	return engine.RunGenerationLoop(ctx, lm, prompt, opts, cancel, onToken)
}
