package chat

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/buildhub/buildhub/internal/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is one live, authenticated websocket connection. The identity is
// attached exactly once, after handshake authentication succeeds; a Client
// never exists in the hub without it.
type Client struct {
	id       string
	identity utils.Identity
	hub      *Hub
	gateway  *Gateway
	conn     *websocket.Conn
	send     chan []byte
}

func newClient(g *Gateway, conn *websocket.Conn, identity utils.Identity) *Client {
	return &Client{
		id:       uuid.New().String(),
		identity: identity,
		hub:      g.hub,
		gateway:  g,
		conn:     conn,
		send:     make(chan []byte, 256),
	}
}

// enqueue hands a frame to the write pump without blocking; a client whose
// buffer is full misses the frame rather than stalling the broadcaster.
func (c *Client) enqueue(data []byte) {
	if data == nil {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("chat: client %s send buffer full, dropping frame", c.id)
	}
}

// readPump pumps frames from the websocket into the gateway dispatcher. It
// owns the disconnect path: whatever ends the read loop (client close,
// network error, oversized frame) funnels through the gateway's disconnect
// handling exactly once.
func (c *Client) readPump() {
	defer func() {
		c.gateway.handleDisconnect(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("chat: client %s read error: %v", c.id, err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError("malformed frame")
			continue
		}
		c.gateway.dispatch(c, frame)
	}
}

// writePump pumps frames from the send channel to the websocket and keeps
// the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError emits the sanitized error event; detail stays in server logs.
func (c *Client) sendError(message string) {
	c.enqueue(encodeFrame(EvtError, errorPayload{
		Message:   message,
		Timestamp: time.Now().UTC(),
	}))
}

func (c *Client) sendAck(command string, data any) {
	c.enqueue(encodeFrame(ackEvent(command), data))
}
