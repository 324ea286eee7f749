// Package server owns the process-wide shared state (registry, engine
// dispatcher, config) and the HTTP server lifecycle: port allocation with
// fallback, CORS wrapping, and graceful shutdown on signal cancellation.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/localforge/localforge/pkg/api"
	"github.com/localforge/localforge/pkg/config"
	"github.com/localforge/localforge/pkg/discovery"
	"github.com/localforge/localforge/pkg/engine"
	"github.com/localforge/localforge/pkg/engine/backends/gguf"
	"github.com/localforge/localforge/pkg/engine/backends/safetensors"
	"github.com/localforge/localforge/pkg/logging"
	"github.com/localforge/localforge/pkg/metrics"
	"github.com/localforge/localforge/pkg/middleware"
	"github.com/localforge/localforge/pkg/model"
	"github.com/localforge/localforge/pkg/registry"
)

// Server holds every process-wide component for the lifetime of `serve`.
type Server struct {
	log        logging.Logger
	cfg        config.ServerConfig
	Registry   *registry.Registry
	Dispatcher *engine.Dispatcher
	Metrics    *metrics.Tracker
	handler    *api.Handler
}

// New wires the registry, dispatcher, and metrics tracker, runs an initial
// discovery pass, and builds the HTTP handler.
func New(log logging.Logger, cfg config.ServerConfig) *Server {
	reg := registry.New()

	backends := map[model.Format]engine.Backend{
		model.Gguf:        gguf.New(),
		model.SafeTensors: safetensors.New(),
	}
	dispatcher := engine.NewDispatcher(log, backends, 0, cfg.MaxConcurrentGenerations)
	tracker := metrics.New()

	paths := discovery.SearchPaths(cfg.ModelDirs)
	entries := discovery.Scan(paths, log)
	reg.Refresh(entries, 4096)

	if cfg.BaseModel != "" {
		registerPinned(log, reg, cfg.BaseModel, cfg.LoraModel)
	}

	handler := api.New(log, reg, dispatcher, tracker, cfg.GPUBackend, cfg.Moe)

	return &Server{log: log, cfg: cfg, Registry: reg, Dispatcher: dispatcher, Metrics: tracker, handler: handler}
}

// registerPinned registers a single BASE_MODEL path outside of a directory
// scan, classifying its format the same way discovery.Scan does rather than
// assuming GGUF: a SafeTensors path pinned this way must still load through
// the SafeTensors backend.
func registerPinned(log logging.Logger, reg *registry.Registry, basePath, loraPath string) {
	name := basePath
	if idx := lastSlash(basePath); idx >= 0 {
		name = basePath[idx+1:]
	}

	format, ok := discovery.ClassifyFormat(basePath, name)
	if !ok {
		log.Warnf("server: could not classify BASE_MODEL %s, defaulting to gguf", basePath)
		format = model.Gguf
	}

	reg.Insert(model.Spec{
		Name:     name,
		BasePath: basePath,
		Format:   format,
		LoraPath: loraPath,
		CtxLen:   4096,
	})
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' || s[i] == '\\' {
			return i
		}
	}
	return -1
}

// Run binds the HTTP server (with the 16-port sequential fallback) and
// blocks until ctx is cancelled, then shuts down gracefully. The chosen
// port is printed to stdout as a single machine-parseable line so callers
// can discover it when the configured port was already taken.
func (s *Server) Run(ctx context.Context) error {
	ln, addr, err := resolveListener(s.cfg.BindAddr)
	if err != nil {
		return err
	}
	fmt.Printf("localforge listening on %s\n", addr)

	corsHandler := middleware.NewCorsHandler(s.handler.Mux(), middleware.CorsConfig{AllowedOrigins: s.cfg.AllowedOrigins})
	httpServer := &http.Server{Handler: corsHandler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
