package hub

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
)

// Websocket timings. Clients only answer pings; anything else they send is
// read and discarded.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4 * 1024

	// socketBuffer is the send queue of a websocket client. A render
	// client that falls this far behind is dropped.
	socketBuffer = 64
)

// Client is one subscriber: a websocket connection or an in-process
// consumer reading Messages.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

// Serve attaches conn to h and blocks until the connection closes.
// Call it from a websocket handler.
func Serve(h *Hub, conn *websocket.Conn) {
	c := &Client{hub: h, conn: conn, send: make(chan Message, socketBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	c.readPump()
}

// Subscribe registers an in-process client. Read from Messages until it is
// closed; call Close to leave.
func Subscribe(ctx context.Context, h *Hub, buffer int) (*Client, error) {
	c := &Client{hub: h, send: make(chan Message, buffer)}
	select {
	case h.register <- c:
		return c, nil
	case <-h.done:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Messages returns the client's inbound channel.
func (c *Client) Messages() <-chan Message {
	return c.send
}

// Close unregisters an in-process client.
func (c *Client) Close() {
	c.hub.leave(c)
}

// readPump keeps the read deadline moving on pongs and notices disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on the connection.
func (c *Client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
				return
			}

		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
