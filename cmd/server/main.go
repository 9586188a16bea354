package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"classpulse/internal/cache"
	"classpulse/internal/config"
	"classpulse/internal/repository"
	"classpulse/internal/service"
	"classpulse/internal/store/redisstore"
	"classpulse/internal/transport/rest"
	"classpulse/internal/transport/ws"
)

func main() {
	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if os.Getenv("LOG_PRETTY") != "" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx := context.Background()

	// MongoDB connection
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	defer mongoClient.Disconnect(ctx)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		log.Fatal().Err(err).Msg("failed to ping MongoDB")
	}
	log.Info().Msg("connected to MongoDB")

	db := mongoClient.Database(cfg.MongoDB)

	// Redis connection
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer rdb.Close()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping Redis")
	}
	log.Info().Msg("connected to Redis")

	clock := clockwork.NewRealClock()

	// Live document store and WebSocket fan-out
	liveStore := redisstore.New(rdb)
	wsHub := ws.NewHub()
	wsBridge := ws.NewBridge(liveStore, wsHub)
	defer wsBridge.Close()

	// Repositories and caches
	sessionRepo := repository.NewSessionRepo(db)
	memberRepo := repository.NewMemberRepo(db)
	userRepo := repository.NewUserRepo(db)
	codeCache := cache.NewCodeCache(rdb)
	leaderboard := cache.NewLeaderboardCache(rdb)

	// Services
	authSvc := service.NewAuthService(cfg.HostUsername, cfg.HostPassword, cfg.JWTSecret)
	sessionSvc := service.NewSessionService(sessionRepo, memberRepo, codeCache, leaderboard, liveStore, authSvc, clock, cfg.SessionRetention)
	toolSvc := service.NewToolService(liveStore, clock)
	buzzerSvc := service.NewBuzzerService(liveStore, clock)
	pollSvc := service.NewPollService(liveStore, clock)
	timerSvc := service.NewTimerService(liveStore, clock)
	scoringSvc := service.NewScoringService(memberRepo, userRepo, sessionRepo, leaderboard, clock)

	// Inject broadcaster (wsHub implements service.Broadcaster)
	sessionSvc.SetBroadcaster(wsHub)
	scoringSvc.SetBroadcaster(wsHub)

	// Daily expiry sweep
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go runSweep(sweepCtx, sessionSvc, clock, cfg.SweepInterval)

	router := rest.NewRouter(&rest.Container{
		AuthService:    authSvc,
		SessionService: sessionSvc,
		ToolService:    toolSvc,
		BuzzerService:  buzzerSvc,
		PollService:    pollSvc,
		TimerService:   timerSvc,
		ScoringService: scoringSvc,
		WSHub:          wsHub,
		WSBridge:       wsBridge,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("server exited")
}

// runSweep runs the expiry sweep once at startup and then on the
// configured cadence until ctx is cancelled.
func runSweep(ctx context.Context, sessionSvc *service.SessionService, clock clockwork.Clock, interval time.Duration) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	sweep := func() {
		deleted, err := sessionSvc.SweepExpiredSessions(ctx)
		if err != nil {
			log.Error().Err(err).Msg("expiry sweep failed")
			return
		}
		if deleted > 0 {
			log.Info().Int("deleted", deleted).Msg("expiry sweep finished")
		}
	}

	sweep()
	for {
		select {
		case <-ticker.Chan():
			sweep()
		case <-ctx.Done():
			return
		}
	}
}
