// Package api implements the OpenAI-compatible and native HTTP/WebSocket
// surface: a route-map-of-HandlerFunc mux, a body-size guard on every POST,
// and a single error-kind-to-status mapping shared by both schema flavors.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/localforge/localforge/pkg/engine"
	"github.com/localforge/localforge/pkg/errkind"
	"github.com/localforge/localforge/pkg/logging"
	"github.com/localforge/localforge/pkg/metrics"
	"github.com/localforge/localforge/pkg/model"
	"github.com/localforge/localforge/pkg/registry"
	"github.com/localforge/localforge/pkg/templates"
	"github.com/localforge/localforge/pkg/transport"
)

// maxBodyBytes bounds request body size so a malformed or hostile client
// can't force unbounded buffering of a single request.
const maxBodyBytes = 10 << 20

// Handler wires the registry, the engine dispatcher, and metrics into the
// HTTP/WebSocket route table.
type Handler struct {
	log        logging.Logger
	registry   *registry.Registry
	dispatcher *engine.Dispatcher
	metrics    *metrics.Tracker
	gpu        model.GpuBackend
	moe        model.MoeConfig
	startTime  time.Time

	templateMu    sync.Mutex
	templateCache map[string]*templates.Template

	upgrader websocket.Upgrader
}

func New(log logging.Logger, reg *registry.Registry, dispatcher *engine.Dispatcher, tracker *metrics.Tracker, gpu model.GpuBackend, moe model.MoeConfig) *Handler {
	return &Handler{
		log:           log,
		registry:      reg,
		dispatcher:    dispatcher,
		metrics:       tracker,
		gpu:           gpu,
		moe:           moe,
		startTime:     time.Now(),
		templateCache: make(map[string]*templates.Template),
		upgrader:      websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// Routes returns the route table as a plain map so Mux and any test harness
// can register or inspect it without reflection over a concrete mux type.
func (h *Handler) Routes() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"/v1/chat/completions": h.handleChatCompletions,
		"/v1/models":           h.handleModels,
		"/api/generate":        h.handleGenerate,
		"/ws/generate":         h.handleWS,
		"/health":              h.handleHealth,
	}
}

func (h *Handler) Mux() http.Handler {
	mux := http.NewServeMux()
	for path, fn := range h.Routes() {
		mux.HandleFunc(path, fn)
	}
	return mux
}

// templateFor resolves a model's prompt template: explicit spec.Template
// first, else filename inference, cached per model name for the process
// lifetime so repeated requests against the same model skip re-inference.
func (h *Handler) templateFor(spec model.Spec) *templates.Template {
	h.templateMu.Lock()
	defer h.templateMu.Unlock()
	if t, ok := h.templateCache[spec.Name]; ok {
		return t
	}
	var family templates.Family
	if spec.Template != "" {
		if f, ok := templates.ParseFamily(spec.Template); ok {
			family = f
		} else {
			family = templates.InferFamily(spec.BasePath)
		}
	} else {
		family = templates.InferFamily(spec.BasePath)
	}
	t := templates.New(family)
	h.templateCache[spec.Name] = t
	return t
}

func (h *Handler) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errkind.New(errkind.BadRequest, "method not allowed"))
		return
	}
	specs := h.registry.List()
	resp := ModelListResponse{Object: "list"}
	now := time.Now().Unix()
	for _, s := range specs {
		resp.Data = append(resp.Data, ModelListEntry{ID: s.Name, Object: "model", Created: now, OwnedBy: "local"})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	residents := h.dispatcher.Residents()
	status := "ok"
	for _, s := range residents {
		if s.State == engine.StateUnloading.String() || s.Degraded {
			status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:       status,
		UptimeS:      int64(time.Since(h.startTime).Seconds()),
		ModelsLoaded: len(residents),
		Snapshot:     h.metrics.Snapshot(),
	})
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, errkind.New(errkind.BadRequest, "method not allowed"))
		return
	}
	h.metrics.RequestStarted()
	defer h.metrics.RequestFinished()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, errkind.New(errkind.BadRequest, "request body too large or unreadable"))
		return
	}
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, errkind.New(errkind.BadRequest, "invalid request body: "+err.Error()))
		return
	}

	spec, err := h.registry.Get(req.Model)
	if err != nil {
		h.metrics.RecordError(string(errkind.ModelNotFound))
		writeError(w, err)
		return
	}

	lm, err := h.dispatcher.Acquire(r.Context(), spec, h.gpu, h.moe)
	if err != nil {
		h.recordAndWrite(err)
		writeError(w, err)
		return
	}
	defer h.dispatcher.Release(lm)

	tmpl := h.templateFor(spec)
	msgs := make([]templates.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, templates.Message{Role: m.Role, Content: m.Content})
	}
	prompt := tmpl.Render(msgs)

	opts := chatOptionsFrom(req, tmpl)
	if err := opts.Validate(); err != nil {
		writeError(w, errkind.New(errkind.BadRequest, err.Error()))
		return
	}

	id := "chatcmpl-" + spec.Name
	created := time.Now().Unix()

	if !req.Stream {
		buf := transport.NewBuffered()
		start := time.Now()
		var firstTokenOnce sync.Once
		onToken := func(fragment string) {
			firstTokenOnce.Do(func() {
				h.metrics.ObserveFirstTokenLatency(msSince(start))
			})
			buf.OnToken(fragment)
		}
		outcome, err := h.dispatcher.Generate(r.Context(), lm, prompt, opts, r.Context().Done(), onToken)
		h.metrics.ObserveGenerationLatency(msSince(start))
		if err != nil {
			h.recordAndWrite(err)
			writeError(w, err)
			return
		}
		h.metrics.TokensGenerated(outcome.Tokens)
		finish := finishReason(outcome.StopReason)
		writeJSON(w, http.StatusOK, ChatResponse{
			ID:      id,
			Object:  "chat.completion",
			Created: created,
			Model:   spec.Name,
			Choices: []ChatChoice{{
				Index:        0,
				Message:      &ChatMessage{Role: "assistant", Content: outcome.Text},
				FinishReason: &finish,
			}},
			Usage: Usage{CompletionTokens: outcome.Tokens, TotalTokens: outcome.Tokens},
		})
		return
	}

	sse, err := transport.NewSSE(w)
	if err != nil {
		writeError(w, errkind.New(errkind.Internal, "streaming unsupported"))
		return
	}
	sse.Headers()

	cancel := mergeCancel(r.Context().Done(), sse.Overflow())
	start := time.Now()
	var firstTokenOnce sync.Once
	onToken := func(fragment string) {
		firstTokenOnce.Do(func() {
			h.metrics.ObserveFirstTokenLatency(msSince(start))
		})
		chunk := ChatChunk{ID: id, Object: "chat.completion.chunk", Created: created, Model: spec.Name,
			Choices: []ChatChoice{{Index: 0, Delta: &ChatDelta{Content: fragment}}}}
		data, _ := json.Marshal(chunk)
		sse.WriteRaw(string(data))
	}
	outcome, err := h.dispatcher.Generate(r.Context(), lm, prompt, opts, cancel, onToken)
	h.metrics.ObserveGenerationLatency(msSince(start))
	if err != nil {
		h.recordAndWrite(err)
		sse.Done()
		return
	}
	h.metrics.TokensGenerated(outcome.Tokens)
	sse.Done()
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, errkind.New(errkind.BadRequest, "method not allowed"))
		return
	}
	h.metrics.RequestStarted()
	defer h.metrics.RequestFinished()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, errkind.New(errkind.BadRequest, "request body too large or unreadable"))
		return
	}
	var req GenerateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, errkind.New(errkind.BadRequest, "invalid request body: "+err.Error()))
		return
	}

	spec, err := h.registry.Get(req.Model)
	if err != nil {
		h.metrics.RecordError(string(errkind.ModelNotFound))
		writeError(w, err)
		return
	}

	lm, err := h.dispatcher.Acquire(r.Context(), spec, h.gpu, h.moe)
	if err != nil {
		h.recordAndWrite(err)
		writeError(w, err)
		return
	}
	defer h.dispatcher.Release(lm)

	opts := nativeOptionsFrom(req)
	if err := opts.Validate(); err != nil {
		writeError(w, errkind.New(errkind.BadRequest, err.Error()))
		return
	}

	if !req.Stream {
		buf := transport.NewBuffered()
		start := time.Now()
		var firstTokenOnce sync.Once
		onToken := func(fragment string) {
			firstTokenOnce.Do(func() {
				h.metrics.ObserveFirstTokenLatency(msSince(start))
			})
			buf.OnToken(fragment)
		}
		outcome, err := h.dispatcher.Generate(r.Context(), lm, req.Prompt, opts, r.Context().Done(), onToken)
		h.metrics.ObserveGenerationLatency(msSince(start))
		if err != nil {
			h.recordAndWrite(err)
			writeError(w, err)
			return
		}
		h.metrics.TokensGenerated(outcome.Tokens)
		writeJSON(w, http.StatusOK, GenerateResponse{Response: outcome.Text, Tokens: outcome.Tokens})
		return
	}

	sse, err := transport.NewSSE(w)
	if err != nil {
		writeError(w, errkind.New(errkind.Internal, "streaming unsupported"))
		return
	}
	sse.Headers()
	cancel := mergeCancel(r.Context().Done(), sse.Overflow())
	start := time.Now()
	var firstTokenOnce sync.Once
	onToken := func(fragment string) {
		firstTokenOnce.Do(func() {
			h.metrics.ObserveFirstTokenLatency(msSince(start))
		})
		sse.OnToken(fragment)
	}
	outcome, err := h.dispatcher.Generate(r.Context(), lm, req.Prompt, opts, cancel, onToken)
	h.metrics.ObserveGenerationLatency(msSince(start))
	if err != nil {
		h.recordAndWrite(err)
		sse.Done()
		return
	}
	h.metrics.TokensGenerated(outcome.Tokens)
	sse.Done()
}

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("api: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var req GenerateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		conn.WriteJSON(map[string]string{"error": "invalid request"})
		return
	}

	h.metrics.RequestStarted()
	defer h.metrics.RequestFinished()

	spec, err := h.registry.Get(req.Model)
	if err != nil {
		h.metrics.RecordError(string(errkind.ModelNotFound))
		conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}

	ctx := r.Context()
	lm, err := h.dispatcher.Acquire(ctx, spec, h.gpu, h.moe)
	if err != nil {
		h.recordAndWrite(err)
		conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}
	defer h.dispatcher.Release(lm)

	ws := transport.NewWS(conn)
	go ws.WatchForStop()

	opts := nativeOptionsFrom(req)
	if err := opts.Validate(); err != nil {
		conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}
	cancel := mergeCancel(ctx.Done(), ws.Cancel(), ws.Overflow())
	start := time.Now()
	var firstTokenOnce sync.Once
	onToken := func(fragment string) {
		firstTokenOnce.Do(func() {
			h.metrics.ObserveFirstTokenLatency(msSince(start))
		})
		ws.OnToken(fragment)
	}
	outcome, err := h.dispatcher.Generate(ctx, lm, req.Prompt, opts, cancel, onToken)
	h.metrics.ObserveGenerationLatency(msSince(start))
	if err != nil {
		h.recordAndWrite(err)
		ws.DoneFault(0)
		return
	}
	h.metrics.TokensGenerated(outcome.Tokens)
	ws.DoneNormal(outcome.Tokens)
}

func (h *Handler) recordAndWrite(err error) {
	kind := errkind.Internal
	if te, ok := errkind.As(err); ok {
		kind = te.Kind
	}
	h.metrics.RecordError(string(kind))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// mergeCancel fans multiple done-signal channels into one that closes when
// any of them does.
func mergeCancel(chans ...<-chan struct{}) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		cases := make([]<-chan struct{}, 0, len(chans))
		for _, c := range chans {
			if c != nil {
				cases = append(cases, c)
			}
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		for _, c := range cases {
			c := c
			go func() {
				select {
				case <-c:
					cancel()
				case <-ctx.Done():
				}
			}()
		}
		<-ctx.Done()
		close(out)
	}()
	return out
}

func finishReason(reason engine.StopReason) string {
	if reason == engine.StopMaxTokens {
		return "length"
	}
	return "stop"
}

// msSince returns the elapsed time since start in milliseconds, the unit
// the latency histograms and /health snapshot are expressed in.
func msSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
