package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localforge/localforge/pkg/engine"
	"github.com/localforge/localforge/pkg/errkind"
	"github.com/localforge/localforge/pkg/logging"
	"github.com/localforge/localforge/pkg/metrics"
	"github.com/localforge/localforge/pkg/model"
	"github.com/localforge/localforge/pkg/registry"
)

// stubBackend is a minimal engine.Backend double that emits a fixed token
// stream instead of parsing a real weights file, keeping handler tests
// independent of gguf/safetensors decoding.
type stubBackend struct {
	words []string
}

func newStubBackend(text string) *stubBackend {
	return &stubBackend{words: strings.Fields(text)}
}

func (b *stubBackend) Name() string { return "fake" }

func (b *stubBackend) Load(_ context.Context, spec model.Spec, gpu model.GpuBackend, moe model.MoeConfig) (*engine.LoadedModel, error) {
	return engine.NewLoadedModel(spec, b.Name(), gpu, moe, nil), nil
}

func (b *stubBackend) Generate(ctx context.Context, lm *engine.LoadedModel, prompt string, opts model.GenOptions, cancel <-chan struct{}, onToken engine.OnToken) (engine.GenOutcome, error) {
	var text strings.Builder
	n := 0
	for _, w := range b.words {
		select {
		case <-cancel:
			return engine.GenOutcome{Text: text.String(), Tokens: n, StopReason: engine.StopCancelled}, nil
		default:
		}
		if n >= opts.MaxTokens {
			break
		}
		frag := w + " "
		onToken(frag)
		text.WriteString(frag)
		n++
	}
	return engine.GenOutcome{Text: text.String(), Tokens: n, StopReason: engine.StopEndOfStream}, nil
}

func testLogger() logging.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logging.NewLogrusAdapter(l)
}

func newHandlerForTest(t *testing.T, specs ...model.Spec) (*Handler, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	for _, s := range specs {
		reg.Insert(s)
	}
	backend := newStubBackend("hello world from the fake model")
	disp := engine.NewDispatcher(testLogger(), map[model.Format]engine.Backend{model.Gguf: backend}, 0, 4)
	h := New(testLogger(), reg, disp, metrics.New(), model.Cpu, model.MoeConfig{})
	return h, reg
}

func TestHandleModelsListsRegistered(t *testing.T) {
	h, _ := newHandlerForTest(t, model.Spec{Name: "m1", Format: model.Gguf}, model.Spec{Name: "m2", Format: model.Gguf})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.handleModels(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ModelListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, "m1", resp.Data[0].ID)
}

func TestHandleModelsRejectsNonGet(t *testing.T) {
	h, _ := newHandlerForTest(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.handleModels(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealthOK(t *testing.T) {
	h, _ := newHandlerForTest(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.handleHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleChatCompletionsModelNotFound(t *testing.T) {
	h, _ := newHandlerForTest(t)
	body := `{"model":"missing","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleChatCompletions(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleChatCompletionsNonStream(t *testing.T) {
	h, _ := newHandlerForTest(t, model.Spec{Name: "m1", Format: model.Gguf, CtxLen: 2048})
	body := `{"model":"m1","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleChatCompletions(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
	assert.NotEmpty(t, resp.Choices[0].Message.Content)
	assert.Equal(t, "m1", resp.Model)
}

func TestHandleChatCompletionsStream(t *testing.T) {
	h, _ := newHandlerForTest(t, model.Spec{Name: "m1", Format: model.Gguf, CtxLen: 2048})
	body := `{"model":"m1","messages":[{"role":"user","content":"hi"}],"stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleChatCompletions(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasSuffix(rec.Body.String(), "data: [DONE]\n\n"))

	lines := countDataLines(rec.Body.String())
	assert.Greater(t, lines, 1, "expected at least one content chunk plus the DONE sentinel")
}

func TestHandleGenerateNonStream(t *testing.T) {
	h, _ := newHandlerForTest(t, model.Spec{Name: "m1", Format: model.Gguf, CtxLen: 2048})
	body := `{"model":"m1","prompt":"hi"}`
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleGenerate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp GenerateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Response)
	assert.Greater(t, resp.Tokens, 0)
}

func TestHandleGenerateStream(t *testing.T) {
	h, _ := newHandlerForTest(t, model.Spec{Name: "m1", Format: model.Gguf, CtxLen: 2048})
	body := `{"model":"m1","prompt":"hi","stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleGenerate(rec, req)

	assert.True(t, strings.HasSuffix(rec.Body.String(), "data: [DONE]\n\n"))
}

func TestHandleChatCompletionsRejectsOutOfRangeTemperature(t *testing.T) {
	h, _ := newHandlerForTest(t, model.Spec{Name: "m1", Format: model.Gguf, CtxLen: 2048})
	body := `{"model":"m1","messages":[{"role":"user","content":"hi"}],"temperature":5.0}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleChatCompletions(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGenerateRejectsZeroMaxTokens(t *testing.T) {
	h, _ := newHandlerForTest(t, model.Spec{Name: "m1", Format: model.Gguf, CtxLen: 2048})
	body := `{"model":"m1","prompt":"hi","max_tokens":0}`
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleGenerate(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGenerateRejectsNonPost(t *testing.T) {
	h, _ := newHandlerForTest(t)
	req := httptest.NewRequest(http.MethodGet, "/api/generate", nil)
	rec := httptest.NewRecorder()
	h.handleGenerate(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoutesRegistersAllFivePaths(t *testing.T) {
	h, _ := newHandlerForTest(t)
	routes := h.Routes()
	for _, p := range []string{"/v1/chat/completions", "/v1/models", "/api/generate", "/ws/generate", "/health"} {
		assert.Contains(t, routes, p)
	}
}

func TestFinishReasonMapsMaxTokensToLength(t *testing.T) {
	assert.Equal(t, "length", finishReason(engine.StopMaxTokens))
	assert.Equal(t, "stop", finishReason(engine.StopStopSequence))
	assert.Equal(t, "stop", finishReason(engine.StopEndOfStream))
}

func TestRecordAndWriteUsesWrappedKind(t *testing.T) {
	h, _ := newHandlerForTest(t)
	h.recordAndWrite(errkind.New(errkind.BackendUnavailable, "down"))
	snap := h.metrics.Snapshot()
	assert.EqualValues(t, 1, snap.ErrorsByKind["BackendUnavailable"])
}

func countDataLines(body string) int {
	n := 0
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "data: ") {
			n++
		}
	}
	return n
}
