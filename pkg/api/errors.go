package api

import (
	"encoding/json"
	"net/http"

	"github.com/localforge/localforge/pkg/errkind"
)

// statusForKind maps an error kind to an HTTP status code.
func statusForKind(kind errkind.Kind) int {
	switch kind {
	case errkind.ModelNotFound:
		return http.StatusNotFound
	case errkind.UnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case errkind.BackendUnavailable:
		return http.StatusServiceUnavailable
	case errkind.BadRequest:
		return http.StatusBadRequest
	case errkind.Cancelled:
		return 499
	default:
		return http.StatusBadGateway
	}
}

// writeError writes a terse JSON error body: {"error":{"kind":...,
// "message":...}}. Stack traces are never included.
func writeError(w http.ResponseWriter, err error) {
	kind := errkind.Internal
	message := err.Error()
	if te, ok := errkind.As(err); ok {
		kind = te.Kind
		message = te.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForKind(kind))
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"kind":    string(kind),
			"message": message,
		},
	})
}
