package api

import (
	"context"
	"encoding/json"
	"sync"

	"codeberg.org/mutker/trophyctl/internal/aggregator"
	"codeberg.org/mutker/trophyctl/internal/alert"
	"codeberg.org/mutker/trophyctl/internal/command"
	"codeberg.org/mutker/trophyctl/internal/logger"
)

const broadcastBuffer = 256

// Message types sent to dashboard clients
const (
	MessageFrame         = "frame"
	MessageAlerts        = "alerts"
	MessageState         = "state"
	MessageCommandResult = "commandResult"
)

// Message is the envelope of everything written to a websocket
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// directMessage is addressed to one client only
type directMessage struct {
	client  *Client
	message []byte
}

// Hub maintains the set of active clients and broadcasts engine updates to
// them. It is an engine sink; broadcasts never block the caller.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	direct     chan directMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	log        logger.Logger

	mu    sync.RWMutex
	count int
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		direct:     make(chan directMessage, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        logger.For("hub"),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// disconnects every client. Only Run writes to or closes a client's send
// channel.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return nil

		case client := <-h.register:
			h.clients[client] = true
			h.setCount()
			h.log.Debug().Str("remote", client.remote()).Msg("WebSocket client registered")

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				h.log.Debug().Str("remote", client.remote()).Msg("WebSocket client unregistered")
			}

		case d := <-h.direct:
			if h.clients[d.client] {
				select {
				case d.client.send <- d.message:
				default:
				}
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.log.Warn().Str("remote", client.remote()).Msg("WebSocket send buffer full, removing client")
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}

// Clients returns the number of registered clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Register blocks until the hub accepts the client or stops
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Send queues a message for one registered client
func (h *Hub) Send(client *Client, kind string, payload any) {
	b, err := encode(kind, payload)
	if err != nil {
		h.log.Error().Err(err).Str("type", kind).Msg("Failed to encode message")
		return
	}

	select {
	case h.direct <- directMessage{client: client, message: b}:
	case <-h.done:
	}
}

func (h *Hub) Frame(frame aggregator.Frame) {
	h.Broadcast(MessageFrame, frame)
}

func (h *Hub) Alerts(changes alert.Changes) {
	h.Broadcast(MessageAlerts, changes)
}

func (h *Hub) Command(_ command.Kind, delta command.StateDelta, err error) {
	if err != nil || delta.Empty() {
		return
	}
	h.Broadcast(MessageState, delta)
}

// Broadcast queues a message for every client, dropping it when the queue is full
func (h *Hub) Broadcast(kind string, payload any) {
	b, err := encode(kind, payload)
	if err != nil {
		h.log.Error().Err(err).Str("type", kind).Msg("Failed to encode broadcast")
		return
	}

	select {
	case h.broadcast <- b:
	default:
		h.log.Warn().Str("type", kind).Msg("Broadcast queue full, dropping message")
	}
}

func encode(kind string, payload any) ([]byte, error) {
	return json.Marshal(Message{Type: kind, Payload: payload})
}
