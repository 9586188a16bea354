package service

// Broadcaster interface for WebSocket broadcasting (avoids import cycle)
type Broadcaster interface {
	BroadcastToHost(sessionID string, msgType string, payload interface{})
	BroadcastToParticipant(sessionID, userID string, msgType string, payload interface{})
	BroadcastToAll(sessionID string, msgType string, payload interface{})
	DisconnectSession(sessionID string)
}
