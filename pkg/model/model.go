// Package model holds the data types shared across discovery, the registry,
// and the engine: ModelSpec, ModelEntry, GenOptions, and MoeConfig.
package model

import "fmt"

// Format is a closed tagged variant for the supported weight file formats.
type Format uint8

const (
	Gguf Format = iota
	SafeTensors
)

func (f Format) String() string {
	switch f {
	case Gguf:
		return "gguf"
	case SafeTensors:
		return "safetensors"
	default:
		return "unknown"
	}
}

// Spec is the canonical description of a loadable model.
type Spec struct {
	Name     string `json:"name"`
	BasePath string `json:"base_path"`
	Format   Format `json:"format"`
	LoraPath string `json:"lora_path,omitempty"`
	Template string `json:"template,omitempty"`
	CtxLen   int    `json:"ctx_len"`
	NThreads int    `json:"n_threads,omitempty"`
}

// Entry is a discovery-layer record. Entries are ephemeral; the registry
// materializes selected ones into a Spec.
type Entry struct {
	Name           string
	Path           string
	SizeBytes      int64
	Format         Format
	SourceTag      string
	LoraCandidates []string
}

// ToSpec materializes a discovery Entry into a registry Spec, pairing the
// first LoRA candidate (if any) and applying a default context length.
func (e Entry) ToSpec(defaultCtxLen int) Spec {
	s := Spec{
		Name:     e.Name,
		BasePath: e.Path,
		Format:   e.Format,
		CtxLen:   defaultCtxLen,
	}
	if len(e.LoraCandidates) > 0 {
		s.LoraPath = e.LoraCandidates[0]
	}
	return s
}

// GpuBackend is a closed tagged variant for accelerator selection.
type GpuBackend uint8

const (
	Auto GpuBackend = iota
	Cpu
	Cuda
	Vulkan
	OpenCL
	Metal
)

func (g GpuBackend) String() string {
	switch g {
	case Auto:
		return "auto"
	case Cpu:
		return "cpu"
	case Cuda:
		return "cuda"
	case Vulkan:
		return "vulkan"
	case OpenCL:
		return "opencl"
	case Metal:
		return "metal"
	default:
		return "unknown"
	}
}

func ParseGpuBackend(s string) (GpuBackend, error) {
	switch s {
	case "", "auto":
		return Auto, nil
	case "cpu":
		return Cpu, nil
	case "cuda":
		return Cuda, nil
	case "vulkan":
		return Vulkan, nil
	case "opencl":
		return OpenCL, nil
	case "metal":
		return Metal, nil
	default:
		return Auto, fmt.Errorf("unknown gpu backend %q", s)
	}
}

// GPULayers maps a resolved (non-Auto) backend to the "GPU layer count"
// integer passed to the backend loader: 0 for CPU, a saturated-high value
// (treated by the backend as "all layers") for any GPU backend.
func (g GpuBackend) GPULayers() int {
	if g == Cpu {
		return 0
	}
	return 1 << 20
}

// MoeMode is the CPU-offload policy for mixture-of-experts models.
type MoeMode uint8

const (
	MoeNone MoeMode = iota
	MoeAllExperts
	MoeNLayers
)

// MoeConfig bundles the MoE offload policy. NLayers is only meaningful when
// Mode == MoeNLayers. The zero value is MoeNone, a no-op.
type MoeConfig struct {
	Mode    MoeMode
	NLayers int
}

// GenOptions bundles per-request sampling and generation parameters, with
// validated defaults. Fields are plain values rather than optional
// pointers: every field is always meaningful, and DefaultGenOptions fills
// in the zero value's defaults before a caller overrides individual ones.
type GenOptions struct {
	MaxTokens     int
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
	Seed          int64
	StopSequences []string
	Stream        bool
}

// DefaultGenOptions returns the documented defaults.
func DefaultGenOptions() GenOptions {
	return GenOptions{
		MaxTokens:     256,
		Temperature:   0.8,
		TopP:          0.95,
		TopK:          40,
		RepeatPenalty: 1.1,
		Seed:          0,
	}
}

// Validate enforces the documented ranges: temperature in [0,2], top_p in
// (0,1], max_tokens >= 1.
func (o GenOptions) Validate() error {
	if o.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be >= 1, got %d", o.MaxTokens)
	}
	if o.Temperature < 0 || o.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0, 2], got %f", o.Temperature)
	}
	if o.TopP <= 0 || o.TopP > 1 {
		return fmt.Errorf("top_p must be in (0, 1], got %f", o.TopP)
	}
	return nil
}

// MetricsSnapshot is the process-wide metrics view surfaced by /health.
type MetricsSnapshot struct {
	RequestsTotal                uint64            `json:"requests_total"`
	RequestsInFlight             int64             `json:"requests_in_flight"`
	TokensGeneratedTotal         uint64            `json:"tokens_generated_total"`
	FirstTokenLatencyMsHistogram map[string]uint64 `json:"first_token_latency_ms_histogram"`
	GenerationLatencyMsHistogram map[string]uint64 `json:"generation_latency_ms_histogram"`
	ErrorsByKind                 map[string]uint64 `json:"errors_by_kind"`
}
