package model

import "github.com/golang-jwt/jwt/v5"

// HostClaims are JWT claims for host authentication
type HostClaims struct {
	HostID string `json:"hostId"`
	jwt.RegisteredClaims
}

// ParticipantClaims are JWT claims for session-scoped participant tokens
type ParticipantClaims struct {
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	jwt.RegisteredClaims
}

// LoginRequest is the request body for host login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned after successful login
type LoginResponse struct {
	Token  string `json:"token"`
	HostID string `json:"hostId"`
}

// JoinResponse is returned when a participant joins a session
type JoinResponse struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Token     string `json:"token"`
}
