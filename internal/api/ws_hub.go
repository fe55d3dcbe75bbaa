// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mzazimhenga22/movieflix/internal/log"
	"github.com/mzazimhenga22/movieflix/internal/metrics"
	"github.com/mzazimhenga22/movieflix/internal/watchparty"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 16
)

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// roomHub tracks live websocket clients across rooms. Each client owns its
// own store subscription; the hub only counts them and tears them down.
type roomHub struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

func newRoomHub() *roomHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &roomHub{
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*wsClient]struct{}),
	}
}

// subscriptionContext ends when the client leaves or the hub closes.
func (h *roomHub) subscriptionContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(h.ctx)
}

func (h *roomHub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.SetWatchPartyConnections(len(h.clients))
	return true
}

func (h *roomHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		metrics.SetWatchPartyConnections(len(h.clients))
	}
}

func (h *roomHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close tells every client the server is going away and ends all
// subscriptions.
func (h *roomHub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(2*time.Second),
		)
	}
	h.cancel()
}

type wsClient struct {
	hub    *roomHub
	conn   *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
	logger zerolog.Logger
}

func newWSClient(h *roomHub, conn *websocket.Conn, cancel context.CancelFunc, logger zerolog.Logger) *wsClient {
	return &wsClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		cancel: cancel,
		logger: logger,
	}
}

// queue marshals msg onto the send buffer, dropping it when the buffer is full.
func (c *wsClient) queue(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error().Err(err).Msg("ws marshal failed")
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn().Str(log.FieldEvent, "ws.drop").Str("type", msg.Type).Msg("ws client too slow, dropping message")
	}
}

// serve runs the client until the peer leaves or the hub closes.
func (c *wsClient) serve(updates <-chan watchparty.Update) {
	c.logger.Debug().Str(log.FieldEvent, "ws.connected").Int("total", c.hub.clientCount()).Msg("ws client connected")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(c.send)
		for u := range updates {
			c.queue(wsMessage{Type: string(u.Kind), Data: u})
		}
	}()
	go func() {
		defer wg.Done()
		c.writePump()
	}()

	c.readPump()
	c.cancel()
	wg.Wait()
	_ = c.conn.Close()
	c.hub.remove(c)
	c.logger.Debug().Str(log.FieldEvent, "ws.disconnected").Int("total", c.hub.clientCount()).Msg("ws client disconnected")
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				// give the peer a moment to answer the close
				_ = c.conn.SetReadDeadline(time.Now().Add(wsWriteWait))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				// unblock readPump
				_ = c.conn.Close()
				c.drain()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				c.drain()
				return
			}
		}
	}
}

// drain empties send until the forwarder closes it.
func (c *wsClient) drain() {
	for range c.send {
	}
}

// readPump discards client frames; it exists to process pings and closes.
func (c *wsClient) readPump() {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
