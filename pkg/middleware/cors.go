// Package middleware provides HTTP middleware shared by the API layer.
// CORS configuration is lock-guarded and replaced wholesale on change
// rather than mutated field-by-field, so a config reload can never be
// observed half-applied by a concurrent request.
package middleware

import (
	"net/http"
	"strings"
	"sync"
)

// CorsConfig holds the allowed origins. An empty or nil AllowedOrigins
// means no CORS headers are set (same-origin only).
type CorsConfig struct {
	AllowedOrigins []string
}

// CorsHandler wraps an http.Handler and applies CORS headers under a
// hot-swappable config, guarded by an RWMutex so SetConfig can be called
// concurrently with in-flight requests.
type CorsHandler struct {
	mu     sync.RWMutex
	config CorsConfig
	next   http.Handler
}

func NewCorsHandler(next http.Handler, config CorsConfig) *CorsHandler {
	return &CorsHandler{next: next, config: config}
}

// SetConfig replaces the allowed-origins list atomically.
func (c *CorsHandler) SetConfig(config CorsConfig) {
	c.mu.Lock()
	c.config = config
	c.mu.Unlock()
}

func (c *CorsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	allowed := c.config.AllowedOrigins
	c.mu.RUnlock()

	origin := r.Header.Get("Origin")
	if origin != "" && originAllowed(origin, allowed) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Vary", "Origin")
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	c.next.ServeHTTP(w, r)
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// CorsMiddleware wraps handler in a CorsHandler for the given allowed
// origins. The server itself builds one CorsHandler around the whole mux
// with NewCorsHandler.
func CorsMiddleware(handler http.Handler, allowedOrigins []string) http.Handler {
	return NewCorsHandler(handler, CorsConfig{AllowedOrigins: allowedOrigins})
}
