package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferedAccumulatesText(t *testing.T) {
	b := NewBuffered()
	b.OnToken("hello")
	b.OnToken(" world")
	assert.Equal(t, "hello world", b.Text())
}

func TestNewSSERejectsNonFlusher(t *testing.T) {
	_, err := NewSSE(struct{ http.ResponseWriter }{httptest.NewRecorder()})
	assert.Error(t, err)
}

func TestSSEWritesDataFramesAndDoneSentinel(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := NewSSE(rec)
	require.NoError(t, err)

	sse.Headers()
	sse.OnToken("hello")
	sse.OnToken(" world")
	sse.Done()

	body := rec.Body.String()
	assert.Contains(t, body, "data: hello\n\n")
	assert.Contains(t, body, "data:  world\n\n")
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestSSEOverflowAfterMaxQueuedFragments(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := NewSSE(rec)
	require.NoError(t, err)
	sse.Headers()

	for i := 0; i < maxQueuedFragments+5; i++ {
		sse.OnToken("x")
	}

	select {
	case <-sse.Overflow():
	default:
		t.Fatal("expected overflow signal after exceeding maxQueuedFragments")
	}
}

func wsEchoServer(t *testing.T, handle func(*WS)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		ws := NewWS(conn)
		handle(ws)
	}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func TestWSOnTokenAndDoneNormal(t *testing.T) {
	srv, wsURL := wsEchoServer(t, func(ws *WS) {
		ws.OnToken("a")
		ws.OnToken("b")
		ws.DoneNormal(2)
	})
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, msg1, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "a", string(msg1))

	_, msg2, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "b", string(msg2))

	_, msg3, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg3), `"done":true`)
	assert.Contains(t, string(msg3), `"tokens":2`)
}

func TestWSWatchForStopClosesCancelOnStopMessage(t *testing.T) {
	done := make(chan struct{})
	srv, wsURL := wsEchoServer(t, func(ws *WS) {
		go func() {
			ws.WatchForStop()
			close(done)
		}()
		<-ws.Cancel()
	})
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"stop":true}`)))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WatchForStop did not close cancel channel after a stop message")
	}
}
