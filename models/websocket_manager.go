package models

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// JobUpdate is the message pushed to websocket clients whenever a conversion job changes
type JobUpdate struct {
	Type      string    `json:"type"`
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	PageCount int       `json:"page_count,omitempty"`
	Timestamp string    `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// WebSocketManager handles WebSocket connections and broadcasts
type WebSocketManager struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.Mutex
	logger     zerolog.Logger
}

// NewWebSocketManager creates a new WebSocket manager
func NewWebSocketManager(logger zerolog.Logger) *WebSocketManager {
	return &WebSocketManager{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "websocket").Logger(),
	}
}

// Start begins the WebSocket manager
func (wsm *WebSocketManager) Start() {
	go func() {
		for {
			select {
			case <-wsm.done:
				wsm.mu.Lock()
				for client := range wsm.clients {
					client.Close()
					delete(wsm.clients, client)
				}
				wsm.mu.Unlock()
				return
			case client := <-wsm.register:
				wsm.mu.Lock()
				wsm.clients[client] = true
				total := len(wsm.clients)
				wsm.mu.Unlock()
				wsm.logger.Debug().Int("clients", total).Msg("websocket client connected")
			case client := <-wsm.unregister:
				wsm.mu.Lock()
				if _, ok := wsm.clients[client]; ok {
					delete(wsm.clients, client)
					client.Close()
				}
				total := len(wsm.clients)
				wsm.mu.Unlock()
				wsm.logger.Debug().Int("clients", total).Msg("websocket client disconnected")
			case message := <-wsm.broadcast:
				wsm.mu.Lock()
				for client := range wsm.clients {
					if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
						wsm.logger.Warn().Err(err).Msg("failed to send message to client")
						client.Close()
						delete(wsm.clients, client)
					}
				}
				wsm.mu.Unlock()
			}
		}
	}()
}

// Stop closes every client and ends the broadcast loop.
func (wsm *WebSocketManager) Stop() {
	close(wsm.done)
}

// ClientCount returns the number of registered clients.
func (wsm *WebSocketManager) ClientCount() int {
	wsm.mu.Lock()
	defer wsm.mu.Unlock()
	return len(wsm.clients)
}

// BroadcastJobUpdate sends a job update to all connected clients
func (wsm *WebSocketManager) BroadcastJobUpdate(job *ConversionJob) {
	update := JobUpdate{
		Type:      "job_update",
		JobID:     job.ID,
		Status:    job.Status,
		PageCount: job.PageCount,
		Timestamp: job.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if job.Status == StatusFailed && job.ErrorMessage != "" {
		update.Error = job.ErrorMessage
	}

	jsonData, err := json.Marshal(update)
	if err != nil {
		wsm.logger.Error().Err(err).Msg("failed to marshal job update")
		return
	}

	select {
	case wsm.broadcast <- jsonData:
	case <-wsm.done:
	}
}

// RegisterClient registers a new WebSocket client
func (wsm *WebSocketManager) RegisterClient(conn *websocket.Conn) {
	select {
	case wsm.register <- conn:
	case <-wsm.done:
		conn.Close()
	}
}

// UnregisterClient unregisters a WebSocket client
func (wsm *WebSocketManager) UnregisterClient(conn *websocket.Conn) {
	select {
	case wsm.unregister <- conn:
	case <-wsm.done:
	}
}
