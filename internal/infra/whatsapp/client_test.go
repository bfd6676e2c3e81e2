package whatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBridge starts a fake bridge that forwards every received frame
func newBridge(t *testing.T) (string, <-chan Frame) {
	t.Helper()
	frames := make(chan Frame, 16)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			frames <- f
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), frames
}

func TestClient_SendWritesFrame(t *testing.T) {
	url, frames := newBridge(t)
	c, err := NewClient(url, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send(context.Background(), "t1", "5511999990000@c.us", "Olá!"))

	select {
	case f := <-frames:
		assert.Equal(t, Frame{Type: "message", TenantID: "t1", To: "5511999990000@c.us", Content: "Olá!"}, f)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not receive the frame")
	}
}

func TestClient_Errors(t *testing.T) {
	_, err := NewClient("", zerolog.Nop())
	assert.Error(t, err)

	c, err := NewClient("ws://127.0.0.1:1/unreachable", zerolog.Nop())
	require.NoError(t, err)
	assert.Error(t, c.Send(context.Background(), "t1", "u1", "oi"))

	require.NoError(t, c.Close())
	assert.Error(t, c.Send(context.Background(), "t1", "u1", "oi"))
}
