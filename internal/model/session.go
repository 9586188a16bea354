package model

import "time"

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Session is the durable record for one live class/room instance.
// The fast-changing shared state (active tool, buzzer entries, timer)
// lives in the document store at LiveSessionPath(ID), not here.
type Session struct {
	ID        string        `json:"id" bson:"_id"`
	JoinCode  string        `json:"joinCode" bson:"joinCode"`
	HostID    string        `json:"hostId" bson:"hostId"`
	Status    SessionStatus `json:"status" bson:"status"`
	CreatedAt time.Time     `json:"createdAt" bson:"createdAt"`
	ExpiresAt time.Time     `json:"expiresAt" bson:"expiresAt"`
	EndedAt   *time.Time    `json:"endedAt,omitempty" bson:"endedAt,omitempty"`
}

// LiveSessionPath builds the store path of a session's live document.
func LiveSessionPath(sessionID string) string {
	return "sessions/" + sessionID
}

// LiveSession is the shared live document all participants subscribe to.
// Every write replaces the whole document; subscribers always receive a
// full snapshot, never a diff.
type LiveSession struct {
	SessionID  string        `json:"sessionId"`
	JoinCode   string        `json:"joinCode"`
	HostID     string        `json:"hostId"`
	Status     SessionStatus `json:"status"`
	ActiveTool *ToolEnvelope `json:"activeTool,omitempty"`
}
