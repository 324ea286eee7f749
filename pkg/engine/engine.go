// Package engine implements the polymorphic inference engine: a Backend
// capability set {Load, Generate} realized as one concrete type per model
// format plus a Dispatcher that owns resident LoadedModel instances, their
// state machine, and GPU backend resolution.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/localforge/localforge/pkg/logging"
	"github.com/localforge/localforge/pkg/model"
)

// StopReason is the closed set of reasons a generation ended.
type StopReason string

const (
	StopMaxTokens    StopReason = "MaxTokens"
	StopStopSequence StopReason = "StopSequence"
	StopEndOfStream  StopReason = "EndOfStream"
	StopCancelled    StopReason = "Cancelled"
)

// GenOutcome is the result of a completed (or cancelled) generation.
type GenOutcome struct {
	Text       string
	Tokens     int
	StopReason StopReason
}

// OnToken is invoked once per generated token fragment. It receives an
// owned string, decoupled from the backend's internal buffers.
type OnToken func(fragment string)

// Backend is implemented once per model format (gguf, safetensors). Each
// implementation runs entirely in-process: Load parses weights/metadata
// directly and Generate runs a sampling loop in the calling goroutine,
// with no separate inference subprocess to spawn or proxy.
type Backend interface {
	// Name returns the backend's format name.
	Name() string
	// Load parses spec's weights file and returns a resident handle.
	Load(ctx context.Context, spec model.Spec, gpu model.GpuBackend, moe model.MoeConfig) (*LoadedModel, error)
	// Generate runs the sampling loop against an already-loaded handle.
	Generate(ctx context.Context, lm *LoadedModel, prompt string, opts model.GenOptions, cancel <-chan struct{}, onToken OnToken) (GenOutcome, error)
}

// State is a LoadedModel's lifecycle state.
type State uint8

const (
	StateLoading State = iota
	StateReady
	StateGenerating
	StateUnloading
	StateDropped
)

// LoadedModel is the opaque handle the dispatcher hands out for a resident
// model. It owns backend-specific resources (for our in-process backends:
// parsed weight metadata such as architecture, tensor names, and whether
// expert tensors are present) behind a generation mutex that serializes concurrent
// requests against the same model, per spec's "at most one concurrent
// generation per model" rule.
type LoadedModel struct {
	Spec    model.Spec
	Backend string
	Gpu     model.GpuBackend
	Moe     model.MoeConfig

	mu         sync.Mutex // guards state + genMu serialization bookkeeping
	state      State
	refCount   int
	lastUsed   time.Time
	faultCount int
	genMu      sync.Mutex // held for the duration of one generation

	// Resources is backend-specific opaque state (parsed metadata, expert
	// tensor presence), type-asserted by the owning Backend only.
	Resources interface{}
}

// NewLoadedModel constructs a resident handle for a format Backend's Load
// implementation. resources is the backend-specific opaque state attached
// to the handle (parsed metadata).
func NewLoadedModel(spec model.Spec, backend string, gpu model.GpuBackend, moe model.MoeConfig, resources interface{}) *LoadedModel {
	return &LoadedModel{
		Spec:      spec,
		Backend:   backend,
		Gpu:       gpu,
		Moe:       moe,
		state:     StateLoading,
		lastUsed:  time.Now(),
		Resources: resources,
	}
}

func (lm *LoadedModel) setState(s State) {
	lm.mu.Lock()
	lm.state = s
	lm.mu.Unlock()
}

func (lm *LoadedModel) State() State {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.state
}

// Degraded reports whether consecutive faults have reached the recovery
// threshold (3). Residents reports the same flag, which /health surfaces as
// a "degraded" status; a degraded model stays resident and is not evicted.
func (lm *LoadedModel) Degraded() bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.faultCount >= 3
}

func (lm *LoadedModel) recordFault() {
	lm.mu.Lock()
	lm.faultCount++
	lm.mu.Unlock()
}

func (lm *LoadedModel) clearFaults() {
	lm.mu.Lock()
	lm.faultCount = 0
	lm.mu.Unlock()
}

func (lm *LoadedModel) touch() {
	lm.mu.Lock()
	lm.lastUsed = time.Now()
	lm.mu.Unlock()
}

// LastUsed returns the last-touched timestamp, used by the LRU eviction
// policy.
func (lm *LoadedModel) LastUsed() time.Time {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.lastUsed
}

// Dispatcher owns every resident LoadedModel (at most one per model name),
// the set of format Backends, and the once-cached GPU probe result. It
// never holds its own lock across a call into a Backend, per spec's
// deadlock-avoidance rule: extract under lock, drop lock, then call out.
type Dispatcher struct {
	log      logging.Logger
	backends map[model.Format]Backend

	mu     sync.RWMutex
	loaded map[string]*LoadedModel

	probeOnce   sync.Once
	probeResult model.GpuBackend
	probeErr    error

	memWatermarkBytes uint64

	// genSlots bounds the number of generations running concurrently
	// across all models, configured at Dispatcher construction time.
	// Per-model serialization is separately enforced by each LoadedModel's
	// genMu.
	genSlots chan struct{}
}

// NewDispatcher wires one Backend per supported format. maxConcurrent
// bounds simultaneous generations process-wide (default: logical cores,
// minimum 1).
func NewDispatcher(log logging.Logger, backends map[model.Format]Backend, memWatermarkBytes uint64, maxConcurrent int) *Dispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		log:               log,
		backends:          backends,
		loaded:            make(map[string]*LoadedModel),
		memWatermarkBytes: memWatermarkBytes,
		genSlots:          make(chan struct{}, maxConcurrent),
	}
}

// ResolveGpu resolves GpuBackend Auto to a concrete backend, probing
// exactly once per process and caching the result. A non-Auto request
// skips probing entirely and is returned unchanged; neither ResolveGpu nor
// the gguf/safetensors backends check that the named backend is available.
func (d *Dispatcher) ResolveGpu(requested model.GpuBackend) (model.GpuBackend, error) {
	if requested != model.Auto {
		return requested, nil
	}
	d.probeOnce.Do(func() {
		d.probeResult, d.probeErr = probeGPU(d.log)
	})
	return d.probeResult, d.probeErr
}

// Acquire returns the resident LoadedModel for spec.Name, loading it via
// the format-appropriate Backend if it is not already resident. A second
// Acquire for an already-loaded name returns the existing handle with its
// reference count incremented (spec's "second load returns the existing
// handle" rule).
func (d *Dispatcher) Acquire(ctx context.Context, spec model.Spec, gpu model.GpuBackend, moe model.MoeConfig) (*LoadedModel, error) {
	d.mu.RLock()
	existing, ok := d.loaded[spec.Name]
	d.mu.RUnlock()
	if ok {
		existing.mu.Lock()
		existing.refCount++
		existing.mu.Unlock()
		existing.touch()
		return existing, nil
	}

	if err := d.maybeEvict(spec.Name); err != nil {
		d.log.Warnf("engine: eviction check failed: %v", err)
	}

	backend, ok := d.backends[spec.Format]
	if !ok {
		return nil, ErrUnsupportedFormat
	}

	resolvedGpu, err := d.ResolveGpu(gpu)
	if err != nil {
		return nil, err
	}

	lm, err := backend.Load(ctx, spec, resolvedGpu, moe)
	if err != nil {
		return nil, err
	}
	lm.refCount = 1
	lm.setState(StateReady)

	d.mu.Lock()
	// Another goroutine may have raced us to load the same model; prefer
	// the first winner and drop ours, but our Backend.Load is cheap
	// (in-process parse), so losing the race costs a redundant parse, not
	// a redundant process spawn.
	if winner, already := d.loaded[spec.Name]; already {
		d.mu.Unlock()
		winner.mu.Lock()
		winner.refCount++
		winner.mu.Unlock()
		winner.touch()
		return winner, nil
	}
	d.loaded[spec.Name] = lm
	d.mu.Unlock()

	return lm, nil
}

// Generate serializes concurrent requests against the same LoadedModel
// behind its generation mutex (FIFO via Go's mutex wait queue), dispatches
// to the owning Backend, and records/clears fault counts based on the
// outcome.
func (d *Dispatcher) Generate(ctx context.Context, lm *LoadedModel, prompt string, opts model.GenOptions, cancel <-chan struct{}, onToken OnToken) (GenOutcome, error) {
	backend, ok := d.backends[lm.Spec.Format]
	if !ok {
		return GenOutcome{}, ErrUnsupportedFormat
	}

	select {
	case d.genSlots <- struct{}{}:
		defer func() { <-d.genSlots }()
	case <-cancel:
		return GenOutcome{StopReason: StopCancelled}, nil
	case <-ctx.Done():
		return GenOutcome{StopReason: StopCancelled}, nil
	}

	lm.genMu.Lock()
	defer lm.genMu.Unlock()

	lm.setState(StateGenerating)
	defer func() {
		if lm.State() != StateUnloading {
			lm.setState(StateReady)
		}
	}()
	lm.touch()

	outcome, err := backend.Generate(ctx, lm, prompt, opts, cancel, onToken)
	if err != nil {
		if fe, ok := err.(*fatalFault); ok {
			lm.setState(StateUnloading)
			d.Release(lm)
			return outcome, fe.err
		}
		lm.recordFault()
		return outcome, err
	}
	lm.clearFaults()
	return outcome, nil
}

// Release decrements the reference count on lm, dropping it from the
// resident map once it reaches zero (or immediately if lm is Unloading).
func (d *Dispatcher) Release(lm *LoadedModel) {
	lm.mu.Lock()
	lm.refCount--
	shouldDrop := lm.refCount <= 0 || lm.state == StateUnloading
	lm.mu.Unlock()
	if !shouldDrop {
		return
	}
	d.mu.Lock()
	delete(d.loaded, lm.Spec.Name)
	d.mu.Unlock()
	lm.setState(StateDropped)
}

// maybeEvict evicts the least-recently-used idle (Ready) model once four or
// more models are resident. The limit is a fixed resident-model count;
// memory use is not measured and memWatermarkBytes is not consulted.
func (d *Dispatcher) maybeEvict(incomingName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.loaded) == 0 {
		return nil
	}
	const maxResidentModels = 4
	if len(d.loaded) < maxResidentModels {
		return nil
	}

	var lruName string
	var lruTime time.Time
	for name, lm := range d.loaded {
		if name == incomingName {
			continue
		}
		if lm.State() != StateReady {
			continue
		}
		t := lm.LastUsed()
		if lruName == "" || t.Before(lruTime) {
			lruName, lruTime = name, t
		}
	}
	if lruName == "" {
		return nil
	}
	evicted := d.loaded[lruName]
	delete(d.loaded, lruName)
	evicted.setState(StateDropped)
	d.log.Infof("engine: evicted idle model %q to admit %q", lruName, incomingName)
	return nil
}

// Status describes a resident model for /health and `list` introspection.
type Status struct {
	Name     string
	State    string
	Backend  string
	RefCount int
	LastUsed time.Time
	Degraded bool
}

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateGenerating:
		return "generating"
	case StateUnloading:
		return "unloading"
	case StateDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Residents returns a Status snapshot for every currently resident model.
func (d *Dispatcher) Residents() []Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Status, 0, len(d.loaded))
	for name, lm := range d.loaded {
		lm.mu.Lock()
		out = append(out, Status{
			Name:     name,
			State:    lm.state.String(),
			Backend:  lm.Backend,
			RefCount: lm.refCount,
			LastUsed: lm.lastUsed,
			Degraded: lm.faultCount >= 3,
		})
		lm.mu.Unlock()
	}
	return out
}

// ClearFaults resets the fault counter for a resident model, lifting it out
// of the degraded state without a full reload. Used by the `probe` CLI
// command to recover a model after a transient backend fault.
func (d *Dispatcher) ClearFaults(name string) bool {
	d.mu.RLock()
	lm, ok := d.loaded[name]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	lm.clearFaults()
	return true
}

type fatalFault struct{ err error }

func (f *fatalFault) Error() string { return f.err.Error() }

// FatalFault wraps a backend error that should transition the model to
// Unloading instead of leaving it resident for the next request.
func FatalFault(err error) error { return &fatalFault{err: err} }
