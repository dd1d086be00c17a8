// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"micscope/internal/log"
	"micscope/internal/pipeline"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	broadcastQueue = 16
	writeWait      = time.Second
)

// WebSocketTransport broadcasts every Update as a JSON text message to all
// connected clients on /ws.
//
// Thread Safety:
// - Render only marshals and enqueues; a full queue drops the snapshot
// - A single broadcast goroutine writes to clients
// - The client map is guarded by clientsMu
type WebSocketTransport struct {
	addr      string
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	server    *http.Server
	logger    *logrus.Entry
}

// NewWebSocketTransport creates a WebSocketTransport for addr and starts
// its broadcast goroutine. The HTTP listener starts with Start; tests may
// instead mount the transport as an http.Handler.
func NewWebSocketTransport(addr string) *WebSocketTransport {
	wst := &WebSocketTransport{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Local dashboards are served from anywhere
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, broadcastQueue),
		done:      make(chan struct{}),
		logger:    log.With("websocket"),
	}

	wst.wg.Add(1)
	go wst.handleBroadcasts()
	return wst
}

// Start listens on the configured address and serves /ws in the background.
// Listen errors are returned; the caller decides whether they are fatal.
func (wst *WebSocketTransport) Start() error {
	listener, err := net.Listen("tcp", wst.addr)
	if err != nil {
		return fmt.Errorf("websocket listen on %s: %w", wst.addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", wst)
	wst.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		wst.logger.Infof("Serving WebSocket snapshots on ws://%s/ws", listener.Addr())
		if err := wst.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wst.logger.Errorf("Server error: %v", err)
		}
	}()
	return nil
}

// ServeHTTP upgrades the request to a WebSocket connection and registers
// the client.
func (wst *WebSocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wst.logger.Warnf("Upgrade error: %v", err)
		return
	}

	wst.clientsMu.Lock()
	select {
	case <-wst.done:
		wst.clientsMu.Unlock()
		conn.Close()
		return
	default:
	}
	wst.clients[conn] = true
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	wst.logger.Infof("Client %s connected, total: %d", conn.RemoteAddr(), total)

	// Clients only listen; a read error means they went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.removeClient(conn)
				return
			}
		}
	}()
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

func (wst *WebSocketTransport) removeClient(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()

	if ok {
		conn.Close()
		wst.logger.Infof("Client %s disconnected, total: %d", conn.RemoteAddr(), total)
	}
}

// handleBroadcasts sends queued messages to all connected clients until
// the transport is closed.
func (wst *WebSocketTransport) handleBroadcasts() {
	defer wst.wg.Done()
	for {
		select {
		case <-wst.done:
			return
		case msg := <-wst.broadcast:
			wst.clientsMu.Lock()
			for client := range wst.clients {
				_ = client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
					wst.logger.Warnf("Error sending to client %s: %v", client.RemoteAddr(), err)
					client.Close()
					delete(wst.clients, client)
				}
			}
			wst.clientsMu.Unlock()
		}
	}
}

// Render queues u for broadcast. It never blocks: without clients nothing
// is marshalled, and a full queue drops the snapshot.
func (wst *WebSocketTransport) Render(u *pipeline.Update) error {
	select {
	case <-wst.done:
		return errors.New("websocket transport is closed")
	default:
	}
	if wst.Clients() == 0 {
		return nil
	}

	msg, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update %d: %w", u.Tick, err)
	}

	select {
	case wst.broadcast <- msg:
	default:
		wst.logger.Debugf("Broadcast queue full, dropping tick %d", u.Tick)
	}
	return nil
}

// Close disconnects all clients and shuts the server down.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		wst.logger.Info("Closing WebSocket transport")

		wst.clientsMu.Lock()
		close(wst.done)
		for client := range wst.clients {
			client.Close()
		}
		wst.clients = make(map[*websocket.Conn]bool)
		wst.clientsMu.Unlock()

		wst.wg.Wait()

		if wst.server != nil {
			err = wst.server.Close()
		}
	})
	return err
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
