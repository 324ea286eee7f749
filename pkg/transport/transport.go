// Package transport frames engine token callbacks into the three wire
// shapes the API layer exposes: buffered JSON, SSE, and WebSocket. All
// three share the engine's OnToken contract; this package owns framing and
// back-pressure, writing SSE as http.Flusher-backed "data: %s\n\n" events
// terminated by a [DONE] sentinel.
package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// maxQueuedFragments bounds the emitter's internal buffer before a slow
// client triggers cancellation instead of letting fragments pile up
// unbounded in memory.
const maxQueuedFragments = 256

// Buffered accumulates fragments and returns the concatenated text once,
// with no framing of its own.
type Buffered struct {
	text string
}

func NewBuffered() *Buffered { return &Buffered{} }

func (b *Buffered) OnToken(fragment string) {
	b.text += fragment
}

func (b *Buffered) Text() string { return b.text }

// SSE emits each token fragment as a `data: <fragment>\n\n` event and a
// final `data: [DONE]\n\n` sentinel.
type SSE struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	overflow chan struct{}
	queued   int
}

// NewSSE prepares the response writer for event-stream framing. Call
// Headers() before the first Write if headers have not already been sent.
func NewSSE(w http.ResponseWriter) (*SSE, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("transport: response writer does not support flushing")
	}
	return &SSE{w: w, flusher: flusher, overflow: make(chan struct{}, 1)}, nil
}

func (s *SSE) Headers() {
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// OnToken writes one data event. On write failure (client disconnect) or
// queue overflow it signals Overflow() and stops writing further events.
func (s *SSE) OnToken(fragment string) {
	if s.queued >= maxQueuedFragments {
		select {
		case s.overflow <- struct{}{}:
		default:
		}
		return
	}
	s.queued++
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", fragment); err != nil {
		select {
		case s.overflow <- struct{}{}:
		default:
		}
		return
	}
	s.flusher.Flush()
}

// Overflow returns a channel that fires once if back-pressure or a write
// failure occurred; callers select on it alongside the generation context
// to cancel promptly.
func (s *SSE) Overflow() <-chan struct{} { return s.overflow }

func (s *SSE) Done() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}

func (s *SSE) WriteRaw(data string) {
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.flusher.Flush()
}

// WS frames token fragments as WebSocket text frames and a final
// {"done":true,"tokens":n} frame, closing with code 1000 on normal
// completion or 1011 on backend fault. An incoming {"stop":true} text
// frame cancels the generation cooperatively via the returned cancel
// channel.
type WS struct {
	conn     *websocket.Conn
	cancel   chan struct{}
	overflow chan struct{}
	queued   int
}

func NewWS(conn *websocket.Conn) *WS {
	return &WS{conn: conn, cancel: make(chan struct{}), overflow: make(chan struct{}, 1)}
}

// Cancel returns the channel closed when the client sends {"stop":true} or
// disconnects.
func (w *WS) Cancel() <-chan struct{} { return w.cancel }

// WatchForStop reads incoming frames until one requests a stop or the
// connection closes, then closes the cancel channel. Run in its own
// goroutine for the duration of a generation.
func (w *WS) WatchForStop() {
	defer close(w.cancel)
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Stop bool `json:"stop"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Stop {
			return
		}
	}
}

func (w *WS) OnToken(fragment string) {
	if w.queued >= maxQueuedFragments {
		select {
		case w.overflow <- struct{}{}:
		default:
		}
		return
	}
	w.queued++
	if err := w.conn.WriteMessage(websocket.TextMessage, []byte(fragment)); err != nil {
		select {
		case w.overflow <- struct{}{}:
		default:
		}
	}
}

func (w *WS) Overflow() <-chan struct{} { return w.overflow }

// DoneNormal sends the final {"done":true,"tokens":n} frame and closes
// with code 1000.
func (w *WS) DoneNormal(tokens int) {
	w.sendDone(tokens)
	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

// DoneFault sends the final frame then closes with code 1011 (internal
// error), used for backend faults mid-stream.
func (w *WS) DoneFault(tokens int) {
	w.sendDone(tokens)
	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""), time.Now().Add(time.Second))
}

func (w *WS) sendDone(tokens int) {
	payload, _ := json.Marshal(map[string]interface{}{"done": true, "tokens": tokens})
	w.conn.WriteMessage(websocket.TextMessage, payload)
}
