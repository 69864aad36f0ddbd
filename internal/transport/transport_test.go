// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"spectra/internal/display"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testView() *display.View {
	return &display.View{
		Surface:   "web",
		Seq:       3,
		Timestamp: time.UnixMilli(1700000000123),
		Latency:   2 * time.Millisecond,
		RMS:       0.5,
		Bands:     []float64{0.1, 0.9},
		Peaks:     []float64{0.2, 1},
		PeakIndex: 1,
	}
}

func TestLoggingTransport(t *testing.T) {
	lt := NewLoggingTransport(0)
	require.NoError(t, lt.Send(testView()))
	require.NoError(t, lt.Send(&display.View{}))
	assert.EqualValues(t, 2, lt.Sent())

	require.NoError(t, lt.Close())
	assert.ErrorIs(t, lt.Send(testView()), ErrClosed)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestWebSocketBroadcast(t *testing.T) {
	wst := NewWebSocketTransport()
	srv := httptest.NewServer(wst)
	defer srv.Close()
	defer wst.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.Eventually(t, func() bool { return wst.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, wst.Send(testView()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg SpectrumMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "spectrum", msg.Type)
	assert.Equal(t, "web", msg.Surface)
	assert.EqualValues(t, 3, msg.Seq)
	assert.EqualValues(t, 1700000000123, msg.Timestamp)
	assert.EqualValues(t, 2000, msg.LatencyUs)
	assert.Equal(t, 1, msg.PeakIndex)
	assert.Equal(t, []float64{0.1, 0.9}, msg.Bands)
	assert.Equal(t, []float64{0.2, 1}, msg.Peaks)
}

func TestWebSocketClientDisconnect(t *testing.T) {
	wst := NewWebSocketTransport()
	srv := httptest.NewServer(wst)
	defer srv.Close()
	defer wst.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return wst.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return wst.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketSendWithoutClients(t *testing.T) {
	wst := NewWebSocketTransport()
	assert.NoError(t, wst.Send(testView()))
	require.NoError(t, wst.Close())
	require.NoError(t, wst.Close())
	assert.ErrorIs(t, wst.Send(testView()), ErrClosed)
}

func TestWebSocketCloseDisconnectsClients(t *testing.T) {
	wst := NewWebSocketTransport()
	srv := httptest.NewServer(wst)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	require.Eventually(t, func() bool { return wst.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, wst.Close())
	assert.Zero(t, wst.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
