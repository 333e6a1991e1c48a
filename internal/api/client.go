package api

import (
	"bytes"
	"time"

	"codeberg.org/mutker/trophyctl/internal/command"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// commandResult answers a command sent over the websocket
type commandResult struct {
	Delta *command.StateDelta `json:"delta,omitempty"`
	Error *errorBody          `json:"error,omitempty"`
}

// Client is a middleman between one websocket connection and the hub.
// Text messages from the dashboard are decoded as commands.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	apply func(command.Command) (command.StateDelta, error)
}

func newClient(hub *Hub, conn *websocket.Conn, apply func(command.Command) (command.StateDelta, error)) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		apply: apply,
	}
}

func (c *Client) remote() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// readPump reads commands until the connection fails
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug().Err(err).Str("remote", c.remote()).Msg("WebSocket read error")
			}
			return
		}

		c.hub.Send(c, MessageCommandResult, c.handle(message))
	}
}

func (c *Client) handle(message []byte) commandResult {
	cmd, err := command.Parse(bytes.NewReader(message))
	if err != nil {
		return commandResult{Error: newErrorBody(err)}
	}

	delta, err := c.apply(cmd)
	if err != nil {
		return commandResult{Error: newErrorBody(err)}
	}

	return commandResult{Delta: &delta}
}

// writePump writes queued messages and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
