// internal/websocket/hub.go
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"

	"h2-telemetry-gateway/internal/data"
	"h2-telemetry-gateway/internal/logging"
)

// Message types sent to UI clients.
const (
	TypeReading = "reading"
	TypeAlarm   = "alarm"
	TypeHistory = "history"
)

const broadcastBuffer = 1024

// Message is the envelope every frame sent to a UI client is wrapped in.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// History is sent once to each client right after it connects.
type History struct {
	Alarms     []data.AlarmEntry      `json:"alarms"`
	Facilities []data.FacilitySummary `json:"facilities"`
}

// HistoryFunc builds the history for a new client.
type HistoryFunc func() History

// Hub maintains the set of active clients and broadcasts messages.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	count      chan chan int
	done       chan struct{}
	history    HistoryFunc
	log        *slog.Logger
}

func NewHub(history HistoryFunc, log *slog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		history:    history,
		log:        logging.OrDiscard(log),
	}
}

// Run owns the client set until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.log.Info("websocket client registered", slog.String("remote", client.remote()))
			h.sendHistory(client)

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				h.log.Info("websocket client unregistered", slog.String("remote", client.remote()))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					h.log.Warn("websocket client send buffer full, removing", slog.String("remote", client.remote()))
					h.drop(client)
				}
			}

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

// RegisterClient hands client to the hub. It reports false once the hub has
// stopped.
func (h *Hub) RegisterClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-ctx.Done():
		return 0
	case <-h.done:
		return 0
	}
}

// PublishReading broadcasts a sensor state update.
func (h *Hub) PublishReading(state data.SensorState) {
	// The live window is fetched on demand over HTTP.
	state.LiveWindow = nil
	h.publish(TypeReading, state)
}

// NotifyAlarm broadcasts a new alarm log entry.
func (h *Hub) NotifyAlarm(entry data.AlarmEntry) {
	h.publish(TypeAlarm, entry)
}

// publish never blocks ingestion: when the hub falls behind the message is
// dropped.
func (h *Hub) publish(kind string, payload any) {
	b, err := json.Marshal(Message{Type: kind, Payload: payload})
	if err != nil {
		h.log.Error("marshalling broadcast", slog.String("type", kind), logging.Err(err))
		return
	}
	select {
	case h.broadcast <- b:
	default:
		h.log.Warn("broadcast queue full, dropping message", slog.String("type", kind))
	}
}

func (h *Hub) sendHistory(client *Client) {
	if h.history == nil {
		return
	}
	b, err := json.Marshal(Message{Type: TypeHistory, Payload: h.history()})
	if err != nil {
		h.log.Error("marshalling history", logging.Err(err))
		return
	}
	// Send is empty for a fresh client, so this cannot block.
	select {
	case client.Send <- b:
	default:
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.Send)
}
