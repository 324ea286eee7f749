package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCorsAllowsMatchingOrigin(t *testing.T) {
	h := CorsMiddleware(okHandler(), []string{"https://example.com"})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCorsRejectsUnlistedOrigin(t *testing.T) {
	h := CorsMiddleware(okHandler(), []string{"https://example.com"})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCorsWildcardAllowsAnyOrigin(t *testing.T) {
	h := CorsMiddleware(okHandler(), []string{"*"})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Origin", "https://anything.example")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://anything.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCorsShortCircuitsOptions(t *testing.T) {
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	h := CorsMiddleware(inner, []string{"*"})

	req := httptest.NewRequest(http.MethodOptions, "/v1/models", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, called, "OPTIONS preflight must not reach the wrapped handler")
}

func TestCorsSetConfigHotSwaps(t *testing.T) {
	ch := NewCorsHandler(okHandler(), CorsConfig{AllowedOrigins: []string{"https://a.example"}})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Origin", "https://b.example")
	rec := httptest.NewRecorder()
	ch.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	ch.SetConfig(CorsConfig{AllowedOrigins: []string{"https://b.example"}})

	rec2 := httptest.NewRecorder()
	ch.ServeHTTP(rec2, req)
	assert.Equal(t, "https://b.example", rec2.Header().Get("Access-Control-Allow-Origin"))
}

func TestCorsNoOriginHeaderSetsNoCorsHeaders(t *testing.T) {
	h := CorsMiddleware(okHandler(), []string{"*"})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code)
}
