package cmd

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/config"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/handlers"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/repository"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/services"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/treestore"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	// Initialize repositories
	gateway := treestore.NewInstrumented(store)
	messageRepo := repository.NewMessageRepository(gateway)
	conversationRepo := repository.NewConversationRepository(gateway, messageRepo)
	userRepo := repository.NewUserRepository(gateway)

	// Initialize services
	notifiers := services.Notifiers{}
	sessionService := services.NewSessionService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration)
	conversationService := services.NewConversationService(userRepo, conversationRepo, messageRepo, &notifiers)
	matchService := services.NewMatchService(userRepo, conversationService, &notifiers)
	wsHub := services.NewWSHub(conversationService, conversationRepo, messageRepo)
	notifiers = append(notifiers, wsHub)

	if cfg.APNs.KeyFile != "" {
		pushNotifier, err := services.NewPushNotifier(userRepo, cfg.APNs)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create push notifier")
		}
		notifiers = append(notifiers, pushNotifier)
	} else {
		log.Warn().Msg("APNs key not configured, push notifications disabled")
	}

	var photoHandler *handlers.PhotoHandler
	if cfg.AWS.S3Bucket != "" {
		photoService, err := services.NewPhotoService(ctx, userRepo, cfg.AWS)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create photo service")
		}
		photoHandler = handlers.NewPhotoHandler(photoService)
	} else {
		log.Warn().Msg("S3 bucket not configured, profile image uploads disabled")
	}

	reconciler := services.NewReconciler(userRepo, conversationRepo, cfg.Reconcile.PromoteMutualLikes)
	reconciler.Start(ctx, cfg.Reconcile.Interval)

	router := handlers.NewRouter(handlers.Dependencies{
		Sessions:      sessionService,
		Users:         handlers.NewUserHandler(sessionService, userRepo),
		Matches:       handlers.NewMatchHandler(matchService),
		Conversations: handlers.NewConversationHandler(conversationService),
		Photos:        photoHandler,
		WebSocket:     handlers.NewWebSocketHandler(wsHub, sessionService),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Str("store", cfg.Store.Backend).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// openStore connects the configured tree store backend. Postgres also gets
// its schema and a listener relaying changes made by other processes, which
// reconnects after a dropped connection.
func openStore(ctx context.Context, cfg *config.Config) (treestore.Gateway, func()) {
	if cfg.Store.Backend == config.BackendMemory {
		log.Warn().Msg("Using in-memory store, data is lost on exit")
		return treestore.NewMemoryStore(), func() {}
	}

	db, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	store := treestore.NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	go func() {
		if err := store.Watch(ctx); err != nil {
			log.Error().Err(err).Msg("Store change listener gave up")
		}
	}()

	return store, db.Close
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
