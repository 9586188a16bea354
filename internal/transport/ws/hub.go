package ws

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MsgSessionSnapshot   MessageType = "session_snapshot"
	MsgSessionEnded      MessageType = "session_ended"
	MsgParticipantJoined MessageType = "participant_joined"
	MsgParticipantLeft   MessageType = "participant_left"
	MsgLeaderboardUpdate MessageType = "leaderboard_update"
	MsgPointsAwarded     MessageType = "points_awarded"
	MsgError             MessageType = "error"
)

// Message is the WebSocket envelope format
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hub manages WebSocket connections for live sessions
type Hub struct {
	// Session -> connections
	hostConns        map[string]*Connection
	participantConns map[string]map[string]*Connection // sessionID -> userID -> conn

	mu sync.RWMutex

	// Channels for coordination
	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *BroadcastMessage
}

// Connection represents a WebSocket connection
type Connection struct {
	SessionID string
	UserID    string // Empty for host connections
	IsHost    bool
	Send      chan []byte
	Hub       *Hub
}

// BroadcastMessage is a message to broadcast
type BroadcastMessage struct {
	SessionID string
	ToHost    bool
	ToUser    string // Empty means all participants, specific ID means one
	Message   *Message
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	h := &Hub{
		hostConns:        make(map[string]*Connection),
		participantConns: make(map[string]map[string]*Connection),
		register:         make(chan *Connection),
		unregister:       make(chan *Connection),
		broadcast:        make(chan *BroadcastMessage, 256),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			if conn.IsHost {
				h.hostConns[conn.SessionID] = conn
				log.Debug().Str("session", conn.SessionID).Msg("host connected")
			} else {
				if h.participantConns[conn.SessionID] == nil {
					h.participantConns[conn.SessionID] = make(map[string]*Connection)
				}
				h.participantConns[conn.SessionID][conn.UserID] = conn
				log.Debug().Str("session", conn.SessionID).Str("user", conn.UserID).Msg("participant connected")

				h.notifyHost(conn.SessionID, MsgParticipantJoined, conn.UserID)
			}
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if conn.IsHost {
				if existing, ok := h.hostConns[conn.SessionID]; ok && existing == conn {
					delete(h.hostConns, conn.SessionID)
					close(conn.Send)
					log.Debug().Str("session", conn.SessionID).Msg("host disconnected")
				}
			} else {
				if participants, ok := h.participantConns[conn.SessionID]; ok {
					if existing, ok := participants[conn.UserID]; ok && existing == conn {
						delete(participants, conn.UserID)
						close(conn.Send)
						log.Debug().Str("session", conn.SessionID).Str("user", conn.UserID).Msg("participant disconnected")

						h.notifyHost(conn.SessionID, MsgParticipantLeft, conn.UserID)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			data, _ := json.Marshal(msg.Message)

			if msg.ToHost {
				if conn, ok := h.hostConns[msg.SessionID]; ok {
					select {
					case conn.Send <- data:
					default:
						// Drop message if buffer full
					}
				}
			} else if msg.ToUser != "" {
				if participants, ok := h.participantConns[msg.SessionID]; ok {
					if conn, ok := participants[msg.ToUser]; ok {
						select {
						case conn.Send <- data:
						default:
						}
					}
				}
			} else {
				if participants, ok := h.participantConns[msg.SessionID]; ok {
					for _, conn := range participants {
						select {
						case conn.Send <- data:
						default:
						}
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// BroadcastToHost sends a message to the session host (implements service.Broadcaster)
func (h *Hub) BroadcastToHost(sessionID string, msgType string, payload interface{}) {
	h.enqueue(&BroadcastMessage{SessionID: sessionID, ToHost: true}, msgType, payload)
}

// BroadcastToParticipant sends a message to one participant (implements service.Broadcaster)
func (h *Hub) BroadcastToParticipant(sessionID, userID string, msgType string, payload interface{}) {
	h.enqueue(&BroadcastMessage{SessionID: sessionID, ToUser: userID}, msgType, payload)
}

// BroadcastToAll sends a message to every participant in a session
// (implements service.Broadcaster)
func (h *Hub) BroadcastToAll(sessionID string, msgType string, payload interface{}) {
	h.enqueue(&BroadcastMessage{SessionID: sessionID}, msgType, payload)
}

// DisconnectSession closes every connection of a session (implements
// service.Broadcaster). Used when a session ends.
func (h *Hub) DisconnectSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn, ok := h.hostConns[sessionID]; ok {
		delete(h.hostConns, sessionID)
		close(conn.Send)
	}
	for userID, conn := range h.participantConns[sessionID] {
		delete(h.participantConns[sessionID], userID)
		close(conn.Send)
	}
	delete(h.participantConns, sessionID)
}

// ConnectionCount reports how many connections a session currently has.
func (h *Hub) ConnectionCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.participantConns[sessionID])
	if _, ok := h.hostConns[sessionID]; ok {
		n++
	}
	return n
}

func (h *Hub) enqueue(msg *BroadcastMessage, msgType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Str("type", msgType).Msg("dropping unmarshalable broadcast")
		return
	}
	msg.Message = &Message{
		Type:    MessageType(msgType),
		Payload: data,
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Warn().Str("session", msg.SessionID).Msg("broadcast queue full, dropping message")
	}
}

// notifyHost runs with h.mu held by the run loop.
func (h *Hub) notifyHost(sessionID string, msgType MessageType, userID string) {
	conn, ok := h.hostConns[sessionID]
	if !ok {
		return
	}
	payload, _ := json.Marshal(map[string]string{"userId": userID})
	data, _ := json.Marshal(&Message{Type: msgType, Payload: payload})
	select {
	case conn.Send <- data:
	default:
	}
}
