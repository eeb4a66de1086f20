package events

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newStreamServer(t *testing.T, n *Notifier) *httptest.Server {
	t.Helper()
	r := gin.New()
	r.GET("/events/pdf-status", StreamSSE(n, nil))
	r.GET("/ws/pdf-status", ServeWS(n, nil))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamSSE(t *testing.T) {
	n := NewNotifier(nil)
	srv := newStreamServer(t, n)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events/pdf-status", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Eventually(t, func() bool { return n.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	n.Publish("pdf_audio_concluido", map[string]string{"document_id": "abc", "status": "concluido"})
	n.Publish("pdf_audio_erro", map[string]string{"document_id": "def", "status": "erro"})

	reader := bufio.NewReader(resp.Body)
	readFrame := func() []string {
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimSuffix(line, "\n")
			if line == "" {
				return lines
			}
			lines = append(lines, line)
		}
	}

	assert.Equal(t, []string{
		"event: pdf_audio_concluido",
		`data: {"document_id":"abc","status":"concluido"}`,
	}, readFrame())
	assert.Equal(t, []string{
		"event: pdf_audio_erro",
		`data: {"document_id":"def","status":"erro"}`,
	}, readFrame())

	cancel()
	assert.Eventually(t, func() bool { return n.Subscribers() == 0 }, time.Second, 5*time.Millisecond,
		"subscription must be released when the client disconnects")
}

func TestServeWS(t *testing.T) {
	n := NewNotifier(nil)
	srv := newStreamServer(t, n)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/pdf-status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return n.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	n.Publish("pdf_audio_concluido", map[string]string{"document_id": "abc"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "pdf_audio_concluido", ev.Kind)
	assert.JSONEq(t, `{"document_id":"abc"}`, string(ev.Data))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return n.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
