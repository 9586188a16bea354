package model

import "time"

// Member is a participant's per-session score record. The score only
// ever moves by monotonic increments through the scoring transactor;
// the single exception is an explicit host reset.
type Member struct {
	UserID      string    `json:"userId" bson:"_id"`
	SessionID   string    `json:"sessionId" bson:"sessionId"`
	DisplayName string    `json:"displayName" bson:"displayName"`
	Score       int       `json:"score" bson:"score"`
	JoinedAt    time.Time `json:"joinedAt" bson:"joinedAt"`
}

// ScoreEntry is one immutable audit line for an applied award.
type ScoreEntry struct {
	ID        string    `json:"id" bson:"_id"`
	SessionID string    `json:"sessionId" bson:"sessionId"`
	UserID    string    `json:"userId" bson:"userId"`
	Points    int       `json:"points" bson:"points"`
	Reason    string    `json:"reason" bson:"reason"`
	AwardedAt time.Time `json:"awardedAt" bson:"awardedAt"`
}

// AwardEvent is a qualifying domain event carrying points for a member.
// The event ID doubles as the idempotency key: replaying the same event
// must apply its points exactly once.
type AwardEvent struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Points    int    `json:"points"`
	Reason    string `json:"reason,omitempty"`
}
