package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"go-friendchat/internal/auth"
	"go-friendchat/internal/chat"
	"go-friendchat/internal/config"
	"go-friendchat/internal/db"
	"go-friendchat/internal/friend"
	myMiddleware "go-friendchat/internal/middleware"
	"go-friendchat/internal/presence"
	"go-friendchat/internal/relay"
	"go-friendchat/internal/respond"
	"go-friendchat/internal/user"
)

const shutdownTimeout = 10 * time.Second

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	database, err := db.NewDatabase(ctx, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()
	log.Info().Msg("connected to PostgreSQL")

	if err := database.AutoMigrate(ctx); err != nil {
		return err
	}
	log.Info().Msg("database schema initialized")

	var bus relay.Relay
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		r, err := relay.NewRedis(ctx, redisClient, cfg.Redis.Channel, log)
		if err != nil {
			return err
		}
		defer r.Close()
		bus = r
		log.Info().Str("channel", cfg.Redis.Channel).Msg("connected to Redis relay")
	}

	tokens := auth.NewJWT(cfg.JWT.Secret, cfg.JWT.TTL)

	userRepo := user.NewRepository(database.Conn)
	userHandler := user.NewHandler(user.NewService(userRepo, tokens), log)

	friendRepo := friend.NewRepository(database.Conn)
	friendHandler := friend.NewHandler(friend.NewService(friendRepo, userRepo), log)

	chatRepo := chat.NewRepository(database.Conn)

	// The mirror outlives the hub so the final offline writes are flushed.
	mirrorCtx, stopMirror := context.WithCancel(context.Background())
	defer stopMirror()
	mirror := presence.NewMirror(userRepo, log, 5*time.Second)
	go mirror.Run(mirrorCtx)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := chat.NewHub(chat.Options{
		Logger:         log,
		Mirror:         mirror,
		Relay:          bus,
		LegacyPresence: cfg.Hub.LegacyPresence,
		TypingTimeout:  cfg.Hub.TypingTimeout,
	})
	go hub.Run(hubCtx)

	var guard chat.Guard
	if cfg.Hub.VerifyTargets {
		guard = chat.NewRecordGuard(chatRepo, friendRepo)
	}
	chatHandler := chat.NewHandler(hub,
		chat.NewService(chatRepo, friendRepo),
		chat.NewAuthenticator(tokens, cfg.Hub.HandshakeTimeout),
		chat.HandlerOptions{
			Logger:         log,
			Guard:          guard,
			Friends:        friendRepo,
			AllowedOrigins: cfg.Hub.AllowedOrigins,
			MaxMessageSize: cfg.Hub.MaxMessageSize,
			SendBuffer:     cfg.Hub.SendBuffer,
			RateBurst:      cfg.Hub.RateLimit.Burst,
			RateInterval:   cfg.Hub.RateLimit.Interval,
		})

	authMiddleware := myMiddleware.NewAuthMiddleware(tokens)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Conn.PingContext(r.Context()); err != nil {
			respond.Error(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Public routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	// The websocket authenticates its own handshake.
	r.Get("/ws", chatHandler.ServeWs)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)

		r.Get("/api/friends", friendHandler.List)
		r.Post("/api/friends", friendHandler.Send)
		r.Patch("/api/friends/{id}", friendHandler.Respond)

		r.Get("/api/messages", chatHandler.GetMessages)
		r.Post("/api/messages", chatHandler.PostMessage)
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}

	stopHub()
	<-hub.Done()
	stopMirror()
	<-mirror.Done()
	return nil
}
