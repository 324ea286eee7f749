package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGpuBackendRoundTrip(t *testing.T) {
	for _, b := range []GpuBackend{Auto, Cpu, Cuda, Vulkan, OpenCL, Metal} {
		parsed, err := ParseGpuBackend(b.String())
		require.NoError(t, err)
		assert.Equal(t, b, parsed)
	}
}

func TestParseGpuBackendUnknown(t *testing.T) {
	_, err := ParseGpuBackend("tpu")
	assert.Error(t, err)
}

func TestGPULayers(t *testing.T) {
	assert.Equal(t, 0, Cpu.GPULayers())
	for _, b := range []GpuBackend{Cuda, Vulkan, OpenCL, Metal} {
		assert.Greater(t, b.GPULayers(), 0)
	}
}

func TestEntryToSpecPairsFirstLoraCandidate(t *testing.T) {
	e := Entry{
		Name:           "mistral-7b",
		Path:           "/models/mistral-7b.gguf",
		Format:         Gguf,
		LoraCandidates: []string{"/models/adapter-a.gguf", "/models/adapter-b.gguf"},
	}
	spec := e.ToSpec(4096)
	assert.Equal(t, "mistral-7b", spec.Name)
	assert.Equal(t, "/models/adapter-a.gguf", spec.LoraPath)
	assert.Equal(t, 4096, spec.CtxLen)
}

func TestEntryToSpecNoLora(t *testing.T) {
	e := Entry{Name: "base", Path: "/models/base.gguf", Format: Gguf}
	spec := e.ToSpec(2048)
	assert.Empty(t, spec.LoraPath)
}

func TestDefaultGenOptionsValid(t *testing.T) {
	opts := DefaultGenOptions()
	assert.NoError(t, opts.Validate())
}

func TestGenOptionsValidateBounds(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*GenOptions)
		wantErr bool
	}{
		{"zero max tokens", func(o *GenOptions) { o.MaxTokens = 0 }, true},
		{"negative temperature", func(o *GenOptions) { o.Temperature = -0.1 }, true},
		{"temperature too high", func(o *GenOptions) { o.Temperature = 2.1 }, true},
		{"zero top_p", func(o *GenOptions) { o.TopP = 0 }, true},
		{"top_p above one", func(o *GenOptions) { o.TopP = 1.5 }, true},
		{"max tokens one is valid boundary", func(o *GenOptions) { o.MaxTokens = 1 }, false},
		{"temperature zero is valid boundary", func(o *GenOptions) { o.Temperature = 0 }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := DefaultGenOptions()
			tc.mutate(&opts)
			err := opts.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFormatString(t *testing.T) {
	assert.Equal(t, "gguf", Gguf.String())
	assert.Equal(t, "safetensors", SafeTensors.String())
}
