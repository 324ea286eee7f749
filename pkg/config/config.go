// Package config merges environment variables, CLI flags, and platform
// defaults into a ServerConfig, the typed boundary the core consumes.
// Each setting is resolved by checking os.Getenv first and falling back
// to a supplied default.
package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/localforge/localforge/pkg/model"
)

// ServerConfig is the process-wide configuration handed to the server
// runtime.
type ServerConfig struct {
	BindAddr                 string
	ModelDirs                []string
	GPUBackend               model.GpuBackend
	Moe                      model.MoeConfig
	MaxConcurrentGenerations int
	AllowedOrigins           []string
	LogLevel                 string
	LogJSON                  bool
	BaseModel                string
	LoraModel                string
}

// Default returns the platform/process defaults before any env or flag
// overrides are applied.
func Default() ServerConfig {
	return ServerConfig{
		BindAddr:                 "127.0.0.1:8080",
		GPUBackend:               model.Auto,
		MaxConcurrentGenerations: maxConcurrentDefault(),
		LogLevel:                 "info",
	}
}

func maxConcurrentDefault() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

// FromEnv applies the documented environment variables on top of base.
// Env values take precedence over base's defaults but are themselves
// overridden by any explicit CLI flag passed to ApplyFlags afterward.
func FromEnv(base ServerConfig) ServerConfig {
	cfg := base
	if v := os.Getenv("BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("GPU_BACKEND"); v != "" {
		if gpu, err := model.ParseGpuBackend(v); err == nil {
			cfg.GPUBackend = gpu
		}
	}
	if v := os.Getenv("BASE_MODEL"); v != "" {
		cfg.BaseModel = v
	}
	if v := os.Getenv("LORA_MODEL"); v != "" {
		cfg.LoraModel = v
	}
	return cfg
}

// ApplyFlags layers CLI flag values (only the ones the caller actually
// set) on top of cfg. Empty/zero values are treated as "not set" so flags
// never clobber an env override the user didn't explicitly repeat on the
// command line.
func ApplyFlags(cfg ServerConfig, bind string, modelDirs []string, gpuBackend string, cpuMoe bool, nCPUMoe int) ServerConfig {
	if bind != "" {
		cfg.BindAddr = bind
	}
	if len(modelDirs) > 0 {
		cfg.ModelDirs = modelDirs
	}
	if gpuBackend != "" {
		if gpu, err := model.ParseGpuBackend(gpuBackend); err == nil {
			cfg.GPUBackend = gpu
		}
	}
	switch {
	case nCPUMoe > 0:
		cfg.Moe = model.MoeConfig{Mode: model.MoeNLayers, NLayers: nCPUMoe}
	case cpuMoe:
		cfg.Moe = model.MoeConfig{Mode: model.MoeAllExperts}
	}
	return cfg
}

// ParseOrigins splits a comma-separated --allowed-origins flag value into a
// slice.
func ParseOrigins(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseBoolEnv reads name from the environment and parses it as a bool,
// falling back to the supplied default if unset or unparseable.
func ParseBoolEnv(name string, fallback bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
