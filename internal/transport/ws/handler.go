package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"classpulse/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

// Handler handles WebSocket connections
type Handler struct {
	hub     *Hub
	bridge  *Bridge
	authSvc *service.AuthService
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, bridge *Bridge, authSvc *service.AuthService) *Handler {
	return &Handler{
		hub:     hub,
		bridge:  bridge,
		authSvc: authSvc,
	}
}

// HostWS handles GET /v1/ws/sessions/{sessionId}/host
func (h *Handler) HostWS(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	token := r.URL.Query().Get("token")

	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	if _, err := h.authSvc.ValidateHostToken(token); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	h.serve(w, r, &Connection{
		SessionID: sessionID,
		IsHost:    true,
		Send:      make(chan []byte, 256),
		Hub:       h.hub,
	})
}

// ParticipantWS handles GET /v1/ws/sessions/{sessionId}/participant
func (h *Handler) ParticipantWS(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	token := r.URL.Query().Get("token")

	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.authSvc.ValidateParticipantToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if claims.SessionID != sessionID {
		http.Error(w, "token not valid for this session", http.StatusForbidden)
		return
	}

	h.serve(w, r, &Connection{
		SessionID: sessionID,
		UserID:    claims.UserID,
		IsHost:    false,
		Send:      make(chan []byte, 256),
		Hub:       h.hub,
	})
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, conn *Connection) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	if err := h.bridge.Acquire(r.Context(), conn.SessionID); err != nil {
		log.Error().Err(err).Str("session", conn.SessionID).Msg("live subscription failed")
		wsConn.Close()
		return
	}

	h.hub.Register(conn)

	go h.writePump(wsConn, conn)
	go h.readPump(wsConn, conn)
}

func (h *Handler) readPump(wsConn *websocket.Conn, conn *Connection) {
	defer func() {
		h.hub.Unregister(conn)
		h.bridge.Release(conn.SessionID)
		wsConn.Close()
	}()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("session", conn.SessionID).Msg("websocket read error")
			}
			break
		}
		// All commands arrive over REST; the socket is a one-way
		// snapshot feed plus keepalives.
	}
}

func (h *Handler) writePump(wsConn *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := wsConn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
