package engine

import "github.com/localforge/localforge/pkg/errkind"

// LoadError kinds map 1:1 onto errkind.Kind values so the API layer's
// error-to-status mapping does not need engine-specific cases.
var (
	ErrFileNotFound      = errkind.New(errkind.ModelNotFound, "model file not found")
	ErrUnsupportedFormat = errkind.New(errkind.UnsupportedFormat, "unsupported or corrupted model format")
	ErrGpuUnavailable    = errkind.New(errkind.BackendUnavailable, "requested gpu backend unavailable")
	ErrOutOfMemory       = errkind.New(errkind.OutOfMemory, "insufficient memory to load model")
	ErrCorruptedWeights  = errkind.New(errkind.CorruptedWeights, "model weights could not be parsed")
)

// GenError kinds.
var (
	ErrModelNotLoaded  = errkind.New(errkind.Internal, "model not loaded")
	ErrContextOverflow = errkind.New(errkind.ContextOverflow, "prompt exceeds model context length")
	ErrBackendFault    = errkind.New(errkind.Internal, "backend fault")
	ErrCancelled       = errkind.New(errkind.Cancelled, "generation cancelled")
)
