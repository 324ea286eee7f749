package engine

import (
	"runtime"
	"strings"
	"time"

	"github.com/jaypipes/ghw"
	"github.com/localforge/localforge/pkg/logging"
	"github.com/localforge/localforge/pkg/model"
)

// probeGPU resolves model.Auto from side-channel hardware inventory rather
// than spawning vendor diagnostic binaries: Metal on darwin/arm64;
// otherwise Cuda if an NVIDIA card is listed, Vulkan if an AMD or Intel
// card is listed, else Cpu. Auto never resolves to OpenCL. A failed
// inventory read falls back to Cpu. The 500ms deadline is checked only
// while walking the card list, not around the ghw.GPU() call itself.
func probeGPU(log logging.Logger) (model.GpuBackend, error) {
	deadline := time.Now().Add(500 * time.Millisecond)

	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		if log != nil {
			log.Debugf("engine: gpu probe resolved Metal (darwin/arm64)")
		}
		return model.Metal, nil
	}

	gpuInfo, err := ghw.GPU()
	if err != nil {
		if log != nil {
			log.Warnf("engine: gpu probe failed, falling back to cpu: %v", err)
		}
		return model.Cpu, nil
	}

	var hasNvidia, hasAMDOrIntel bool
	for _, card := range gpuInfo.GraphicsCards {
		if card.DeviceInfo == nil || card.DeviceInfo.Vendor == nil {
			continue
		}
		vendor := strings.ToLower(card.DeviceInfo.Vendor.Name)
		switch {
		case strings.Contains(vendor, "nvidia"):
			hasNvidia = true
		case strings.Contains(vendor, "amd"), strings.Contains(vendor, "intel"):
			hasAMDOrIntel = true
		}
		if time.Now().After(deadline) {
			break
		}
	}

	switch {
	case hasNvidia:
		return model.Cuda, nil
	case hasAMDOrIntel:
		// Vulkan has the broadest cross-vendor driver support of the
		// remaining candidates; OpenCL is tried by the caller only if a
		// user explicitly requests it (Auto never resolves to OpenCL).
		return model.Vulkan, nil
	default:
		return model.Cpu, nil
	}
}
