package transport

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	applog "binaural/internal/log"
	"binaural/pkg/utils"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiSendFansOut(t *testing.T) {
	a, b := &utils.MockTransport{}, &utils.MockTransport{}
	m := Multi{a, b}

	require.NoError(t, m.Send("hello"))
	assert.Equal(t, []any{"hello"}, a.Messages())
	assert.Equal(t, []any{"hello"}, b.Messages())
}

func TestMultiJoinsErrors(t *testing.T) {
	errA := errors.New("a failed")
	a := &utils.MockTransport{Err: errA}
	b := &utils.MockTransport{}
	m := Multi{a, b}

	err := m.Send(1)
	assert.ErrorIs(t, err, errA)
	assert.Equal(t, 1, b.Len(), "a failing transport must not starve the others")

	require.NoError(t, m.Close())
	assert.Equal(t, 1, a.Closed())
	assert.Equal(t, 1, b.Closed())
}

func TestLoggingTransport(t *testing.T) {
	var buf bytes.Buffer
	applog.SetOutput(&buf)
	prev := applog.GetLevel()
	t.Cleanup(func() {
		applog.SetLevel(prev)
		applog.SetOutput(os.Stderr)
	})

	lt := NewLoggingTransport()

	applog.SetLevel(applog.LevelInfo)
	require.NoError(t, lt.Send(map[string]int{"blocks": 3}))
	assert.NotContains(t, buf.String(), "LOG_TRANSPORT")

	applog.SetLevel(applog.LevelDebug)
	require.NoError(t, lt.Send(map[string]int{"blocks": 3}))
	assert.Contains(t, buf.String(), `{"blocks":3}`)

	// Channels cannot be marshalled; the raw form is logged instead.
	require.NoError(t, lt.Send(make(chan int)))
	assert.Contains(t, buf.String(), "(chan int)")
	require.NoError(t, lt.Close())
}

func TestWebSocketBroadcast(t *testing.T) {
	wst, err := NewWebSocketTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer wst.Close()

	url := fmt.Sprintf("ws://%s/ws", wst.Addr())
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return wst.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, wst.Send(map[string]any{"kind": "deadline_miss", "block": 7}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "deadline_miss", got["kind"])
	assert.EqualValues(t, 7, got["block"])
}

func TestWebSocketClientDisconnect(t *testing.T) {
	wst, err := NewWebSocketTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer wst.Close()

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws", wst.Addr()), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return wst.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return wst.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketCloseIdempotent(t *testing.T) {
	wst, err := NewWebSocketTransport("127.0.0.1:0")
	require.NoError(t, err)

	require.NoError(t, wst.Close())
	assert.NoError(t, wst.Close())
	// Send after close must not block or panic.
	assert.NoError(t, wst.Send("late"))
}

func TestWebSocketListenError(t *testing.T) {
	_, err := NewWebSocketTransport("256.0.0.1:-1")
	assert.Error(t, err)
}
