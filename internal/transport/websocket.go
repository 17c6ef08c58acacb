// internal/transport/websocket.go
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

// WebsocketConn is the upstream connection to the telemetry websocket API.
type WebsocketConn struct {
	base

	url       string
	conn      *websocket.Conn
	startRead sync.Once
	closeOnce sync.Once
	closeErr  error
}

// DialWebsocket opens the websocket at url. It blocks until the handshake
// completes or ctx ends; no frame is delivered before OnMessage is called.
func DialWebsocket(ctx context.Context, url string, log *slog.Logger) (*WebsocketConn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, &ConnectionError{
			message: fmt.Sprintf("error opening websocket connection to %s", url),
			wrapped: err,
		}
	}
	conn.SetReadLimit(maxMessageSize)

	c := &WebsocketConn{url: url, conn: conn}
	c.base.init(log)
	c.log = c.log.With(slog.String("upstream", url))
	c.log.Info("upstream connected")
	return c, nil
}

// WebsocketDialer adapts DialWebsocket to a Dialer.
func WebsocketDialer(url string, log *slog.Logger) Dialer {
	return func(ctx context.Context) (Connection, error) {
		c, err := DialWebsocket(ctx, url, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func (c *WebsocketConn) OnMessage(h Handler) {
	c.base.OnMessage(h)
	c.startRead.Do(func() { go c.readPump() })
}

// readPump delivers frames sequentially until the socket fails or is closed.
func (c *WebsocketConn) readPump() {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case c.closed.Load():
				c.finish()
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.log.Info("upstream closed the connection")
				c.ended(&ConnectionError{message: "connection closed by upstream", wrapped: err})
			default:
				c.fail(&ConnectionError{message: "error reading from websocket", wrapped: err})
			}
			return
		}
		c.dispatch(message)
	}
}

func (c *WebsocketConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.waitHandler()

		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.closeErr = c.conn.Close()
		c.log.Info("upstream connection closed")

		// A later OnMessage must not start reading a closed socket.
		c.startRead.Do(func() {})
		c.finish()
	})
	return c.closeErr
}
