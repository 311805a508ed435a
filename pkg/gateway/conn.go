// Package gateway implements the realtime websocket fanout.
//
// This file contains the per-connection read and write pumps.
package gateway

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
)

// clientMessage is the shape of inbound client frames.
type clientMessage struct {
	Type string `json:"type"`
}

// connection is one websocket attached to the hub. All writes go through
// the send channel; the write pump is the only goroutine touching the
// socket for writes.
type connection struct {
	hub    *Hub
	ws     *websocket.Conn
	userID string
	send   chan Envelope
}

// writePump drains the send channel and emits pings on the configured
// cadence. Exits when the send channel or the socket breaks, which
// unregisters the connection.
func (c *connection) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.hub.unregister(c)
		_ = c.ws.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteJSON(env); err != nil {
				logger.Debug("websocket write failed", "user_id", c.userID, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client frames and enforces the idle timeout: any frame
// (including pong control frames) refreshes the read deadline; a connection
// silent past the timeout is dropped.
func (c *connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(4096)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.hub.config.IdleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.hub.config.IdleTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read failed", "user_id", c.userID, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.hub.config.IdleTimeout))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			select {
			case c.send <- newEnvelope("pong", nil):
			default:
			}
		}
	}
}
