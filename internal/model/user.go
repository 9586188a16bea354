package model

import "time"

// UserProfile is the cross-session aggregate for one user. For every
// committed score delta there is exactly one lifetime increment, even
// when the triggering event is delivered more than once.
type UserProfile struct {
	UserID         string    `json:"userId" bson:"_id"`
	LifetimePoints int       `json:"lifetimePoints" bson:"lifetimePoints"`
	UpdatedAt      time.Time `json:"updatedAt" bson:"updatedAt"`
}
