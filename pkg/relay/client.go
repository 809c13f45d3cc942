package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/placement-chat/pkg/room"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum envelope size allowed from peer. Attachments travel over the
	// upload endpoint, not the socket, so frames stay small.
	maxMessageSize = 4096

	// SendBuffer is the outbound queue depth per endpoint.
	SendBuffer = 256
)

// Client pumps frames between one websocket connection and its Session.
type Client struct {
	conn     *websocket.Conn
	endpoint *room.Endpoint
	session  *Session
	log      *slog.Logger
}

func NewClient(conn *websocket.Conn, endpoint *room.Endpoint, session *Session, log *slog.Logger) *Client {
	return &Client{conn: conn, endpoint: endpoint, session: session, log: log}
}

// Run starts both pumps. The write pump runs on its own goroutine; the read
// pump occupies the caller until the connection dies.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

// readPump feeds inbound frames to the session. On any read error the
// session is closed, which removes the endpoint from every room.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.session.Close(ctx)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("unexpected close", "endpoint", c.endpoint.ID, "err", err)
			}
			return
		}
		c.session.HandleRaw(ctx, raw)
	}
}

// writePump drains the endpoint's send queue onto the socket, one frame per
// envelope, and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.endpoint.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The router dropped this endpoint.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
