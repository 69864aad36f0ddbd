// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"spectra/internal/display"
	applog "spectra/internal/log"
)

const (
	wsBroadcastDepth = 16
	wsWriteTimeout   = time.Second
)

// SpectrumMessage is the JSON document pushed to websocket clients.
type SpectrumMessage struct {
	Type      string    `json:"type"`
	Surface   string    `json:"surface"`
	Seq       uint64    `json:"seq"`
	Timestamp int64     `json:"timestamp"`  // capture time, unix milliseconds
	LatencyUs int64     `json:"latency_us"` // capture to publish
	RMS       float64   `json:"rms"`
	PeakIndex int       `json:"peak_index"`
	Bands     []float64 `json:"bands"`
	Peaks     []float64 `json:"peaks"`
}

// WebSocketTransport broadcasts views as JSON to every connected client.
// It is an http.Handler; mounting it on a router is the caller's job.
//
// Thread Safety:
// - Send only marshals and enqueues; a dedicated goroutine does the writes
// - The client map is guarded by clientsMu
// - Views are dropped when the broadcast queue is full
type WebSocketTransport struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]struct{}
	clientsMu sync.Mutex
	broadcast chan []byte

	sendMu sync.RWMutex // guards closed against Send racing Close
	closed bool
	wg     sync.WaitGroup
}

// NewWebSocketTransport creates a transport and starts its broadcast loop.
func NewWebSocketTransport() *WebSocketTransport {
	wst := &WebSocketTransport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // origin policy is enforced by the router's CORS layer
			},
		},
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan []byte, wsBroadcastDepth),
	}

	wst.wg.Add(1)
	go wst.handleBroadcasts()
	return wst
}

// ServeHTTP upgrades the connection and registers the client.
func (wst *WebSocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wst.sendMu.RLock()
	closed := wst.closed
	wst.sendMu.RUnlock()
	if closed {
		http.Error(w, "transport closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("WebSocketTransport: Upgrade error: %v", err)
		return
	}

	// Registration happens under the read lock so Close cannot miss it.
	wst.sendMu.RLock()
	defer wst.sendMu.RUnlock()
	if wst.closed {
		conn.Close()
		return
	}

	wst.clientsMu.Lock()
	wst.clients[conn] = struct{}{}
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	applog.Infof("WebSocketTransport: Client %s connected, total: %d", conn.RemoteAddr(), total)

	// Clients never send anything meaningful; reading only detects the close.
	wst.wg.Add(1)
	go func() {
		defer wst.wg.Done()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.drop(conn)
				return
			}
		}
	}()
}

func (wst *WebSocketTransport) drop(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()

	if ok {
		conn.Close()
		applog.Infof("WebSocketTransport: Client disconnected, total: %d", total)
	}
}

// handleBroadcasts sends queued messages to all connected clients.
func (wst *WebSocketTransport) handleBroadcasts() {
	defer wst.wg.Done()
	for data := range wst.broadcast {
		wst.clientsMu.Lock()
		for client := range wst.clients {
			_ = client.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
				applog.Warnf("WebSocketTransport: Error sending to client: %v", err)
				client.Close()
				delete(wst.clients, client)
			}
		}
		wst.clientsMu.Unlock()
	}
}

// Send encodes the view and queues it for broadcast. With no clients
// connected the view is skipped.
func (wst *WebSocketTransport) Send(view *display.View) error {
	wst.sendMu.RLock()
	defer wst.sendMu.RUnlock()
	if wst.closed {
		return ErrClosed
	}
	if wst.Clients() == 0 {
		return nil
	}

	data, err := json.Marshal(SpectrumMessage{
		Type:      "spectrum",
		Surface:   view.Surface,
		Seq:       view.Seq,
		Timestamp: view.Timestamp.UnixMilli(),
		LatencyUs: view.Latency.Microseconds(),
		RMS:       view.RMS,
		PeakIndex: view.PeakIndex,
		Bands:     view.Bands,
		Peaks:     view.Peaks,
	})
	if err != nil {
		return err
	}

	select {
	case wst.broadcast <- data:
	default:
		// Channel full, drop message
	}
	return nil
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// Close disconnects every client and stops the broadcast loop.
func (wst *WebSocketTransport) Close() error {
	wst.sendMu.Lock()
	if wst.closed {
		wst.sendMu.Unlock()
		return nil
	}
	wst.closed = true
	close(wst.broadcast)
	wst.sendMu.Unlock()

	applog.Infof("WebSocketTransport: Closing")

	wst.clientsMu.Lock()
	for client := range wst.clients {
		client.Close()
	}
	clear(wst.clients)
	wst.clientsMu.Unlock()

	wst.wg.Wait()
	return nil
}

// Ensure WebSocketTransport satisfies the interface
var (
	_ Transport    = (*WebSocketTransport)(nil)
	_ http.Handler = (*WebSocketTransport)(nil)
)
