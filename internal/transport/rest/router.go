package rest

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"classpulse/internal/service"
	"classpulse/internal/transport/rest/handler"
	"classpulse/internal/transport/rest/middleware"
	"classpulse/internal/transport/ws"
)

// Container holds all dependencies for the router
type Container struct {
	AuthService    *service.AuthService
	SessionService *service.SessionService
	ToolService    *service.ToolService
	BuzzerService  *service.BuzzerService
	PollService    *service.PollService
	TimerService   *service.TimerService
	ScoringService *service.ScoringService
	WSHub          *ws.Hub
	WSBridge       *ws.Bridge
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	// Initialize handlers
	authHandler := handler.NewAuthHandler(c.AuthService)
	sessionHandler := handler.NewSessionHandler(c.SessionService, c.WSHub)
	toolHandler := handler.NewToolHandler(c.ToolService, c.SessionService)
	buzzerHandler := handler.NewBuzzerHandler(c.BuzzerService)
	pollHandler := handler.NewPollHandler(c.PollService)
	timerHandler := handler.NewTimerHandler(c.TimerService)
	scoreHandler := handler.NewScoreHandler(c.ScoringService)
	wsHandler := ws.NewHandler(c.WSHub, c.WSBridge, c.AuthService)

	// Initialize middleware
	authMW := middleware.NewAuthMiddleware(c.AuthService)

	// CORS middleware (apply first)
	r.Use(corsMiddleware)

	// API v1 routes
	v1 := r.PathPrefix("/v1").Subrouter()

	// Public routes
	v1.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")
	v1.HandleFunc("/codes/{code}", sessionHandler.Resolve).Methods("GET", "OPTIONS")
	v1.HandleFunc("/codes/{code}/join", sessionHandler.Join).Methods("POST", "OPTIONS")
	v1.HandleFunc("/users/{userId}/lifetime", scoreHandler.Lifetime).Methods("GET", "OPTIONS")

	// WebSocket routes (public with token in query param)
	v1.HandleFunc("/ws/sessions/{sessionId}/host", wsHandler.HostWS).Methods("GET")
	v1.HandleFunc("/ws/sessions/{sessionId}/participant", wsHandler.ParticipantWS).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Host routes (require host auth)
	hostRoutes := v1.NewRoute().Subrouter()
	hostRoutes.Use(authMW.RequireHost)

	hostRoutes.HandleFunc("/sessions", sessionHandler.Create).Methods("POST", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}", sessionHandler.Get).Methods("GET", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/stats", sessionHandler.Stats).Methods("GET", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/end", sessionHandler.End).Methods("POST", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/tool", toolHandler.Activate).Methods("POST", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/tool", toolHandler.Deactivate).Methods("DELETE", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/buzzer/open", buzzerHandler.Open).Methods("POST", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/buzzer/lock", buzzerHandler.Lock).Methods("POST", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/buzzer/reset", buzzerHandler.Reset).Methods("POST", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/poll", pollHandler.Open).Methods("POST", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/poll/close", pollHandler.Close).Methods("POST", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/poll/tally", pollHandler.Tally).Methods("GET", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/timer/start", timerHandler.Start).Methods("POST", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/timer/pause", timerHandler.Pause).Methods("POST", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/timer/resume", timerHandler.Resume).Methods("POST", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/timer/stop", timerHandler.Stop).Methods("POST", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/dice/roll", toolHandler.Roll).Methods("POST", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/awards", scoreHandler.Award).Methods("POST", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/scores/reset", scoreHandler.Reset).Methods("POST", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/leaderboard", scoreHandler.Leaderboard).Methods("GET", "OPTIONS")
	hostRoutes.HandleFunc("/sessions/{sessionId}/members/{userId}/history", scoreHandler.History).Methods("GET", "OPTIONS")

	// Participant routes (require participant auth scoped to the session)
	participantRoutes := v1.NewRoute().Subrouter()
	participantRoutes.Use(authMW.RequireParticipant, requireSessionScope)

	participantRoutes.HandleFunc("/sessions/{sessionId}/buzzer/buzz", buzzerHandler.Buzz).Methods("POST", "OPTIONS")
	participantRoutes.HandleFunc("/sessions/{sessionId}/poll/votes", pollHandler.Vote).Methods("POST", "OPTIONS")
	participantRoutes.HandleFunc("/sessions/{sessionId}/wordstorm/words", toolHandler.SubmitWord).Methods("POST", "OPTIONS")
	participantRoutes.HandleFunc("/sessions/{sessionId}/energy/pulse", toolHandler.Pulse).Methods("POST", "OPTIONS")
	participantRoutes.HandleFunc("/sessions/{sessionId}/timer", timerHandler.Remaining).Methods("GET", "OPTIONS")

	return r
}

// requireSessionScope rejects participant tokens used against a
// different session than the one they were minted for.
func requireSessionScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := mux.Vars(r)["sessionId"]
		if sessionID != "" && sessionID != middleware.GetSessionID(r.Context()) {
			http.Error(w, `{"error":"token not valid for this session"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
		if allowedOrigins == "" {
			allowedOrigins = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
