// internal/websocket/client.go
package websocket

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"h2-telemetry-gateway/internal/logging"
)

// Dashboard clients only send control frames, so reads stay small.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // below pongWait
	maxMessageSize = 512
	sendBuffer     = 256
)

// Client is one dashboard connection fed by the hub.
type Client struct {
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte
	log  *slog.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{Hub: hub, Conn: conn, Send: make(chan []byte, sendBuffer)}
	c.log = hub.log.With(slog.String("remote", c.remote()))
	return c
}

// Serve registers the client and starts its pumps.
func (c *Client) Serve() {
	if !c.Hub.RegisterClient(c) {
		c.Conn.Close()
		return
	}
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump only services control frames; the UI does not send data.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregisterClient(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", logging.Err(err))
			}
			return
		}
	}
}

// WritePump sends one websocket message per hub message.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("websocket write error", logging.Err(err))
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("websocket ping error", logging.Err(err))
				return
			}
		}
	}
}

func (c *Client) remote() string {
	if c.Conn == nil {
		return ""
	}
	return c.Conn.RemoteAddr().String()
}
