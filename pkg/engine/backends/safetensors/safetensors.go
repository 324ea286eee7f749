// Package safetensors implements engine.Backend for HuggingFace-style
// SafeTensors weight files: a JSON header describing tensor names/shapes
// followed by raw tensor bytes.
package safetensors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/localforge/localforge/pkg/engine"
	"github.com/localforge/localforge/pkg/model"
)

const Name = "safetensors"

type resources struct {
	tensorNames []string
	hasExperts  bool
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

	header, err := readHeader(spec.BasePath)
	if err != nil {
		return nil, engine.ErrCorruptedWeights
	}

	names := make([]string, 0, len(header))
	hasExperts := false
	for name := range header {
		if name == "__metadata__" {
			continue
		}
		names = append(names, name)
		if strings.Contains(strings.ToLower(name), "expert") {
			hasExperts = true
		}
	}

	res := &resources{tensorNames: names, hasExperts: hasExperts}
	lm := engine.NewLoadedModel(spec, Name, gpu, moe, res)
	return lm, nil
}

func readHeader(path string) (map[string]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lenBuf [8]byte
	if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
		return nil, err
	}
	headerLen := uint64(0)
	for i := 7; i >= 0; i-- {
		headerLen = headerLen<<8 | uint64(lenBuf[i])
	}
	if headerLen == 0 || headerLen > 100*1024*1024 {
		return nil, fmt.Errorf("implausible safetensors header length: %d", headerLen)
	}

	buf := make([]byte, headerLen)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(buf, &header); err != nil {
		return nil, err
	}
	return header, nil
}

func (b *Backend) Generate(ctx context.Context, lm *engine.LoadedModel, prompt string, opts model.GenOptions, cancel <-chan struct{}, onToken engine.OnToken) (engine.GenOutcome, error) {
	return engine.RunGenerationLoop(ctx, lm, prompt, opts, cancel, onToken)
}
