package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/convo-backend/internal/ai"
	"github.com/vultisig/convo-backend/internal/ai/anthropic"
	"github.com/vultisig/convo-backend/internal/ai/gemini"
	"github.com/vultisig/convo-backend/internal/api"
	"github.com/vultisig/convo-backend/internal/cache/redis"
	"github.com/vultisig/convo-backend/internal/config"
	"github.com/vultisig/convo-backend/internal/service"
	"github.com/vultisig/convo-backend/internal/service/chat"
	"github.com/vultisig/convo-backend/internal/service/completion"
	"github.com/vultisig/convo-backend/internal/service/lifecycle"
	"github.com/vultisig/convo-backend/internal/service/mode"
	"github.com/vultisig/convo-backend/internal/storage/postgres"
	"github.com/vultisig/convo-backend/internal/transport/matrix"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	if err := godotenv.Load(); err != nil {
		logger.WithError(err).Warn("no .env file loaded")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	// Configure log format
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithError(err).Warn("invalid log level, using info")
	}

	logger.Info("starting convo-backend")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := postgres.New(ctx, cfg.Database.DSN, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis client. Mode listings are read uncached without one.
	var modeCache mode.Cache
	if cfg.Redis.URI != "" {
		redisClient, err := redis.New(cfg.Redis.URI)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to redis")
		}
		defer redisClient.Close()
		modeCache = redisClient
	} else {
		logger.Info("REDIS_URI not set, mode cache disabled")
	}

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize completion backend")
	}

	// Initialize repositories
	convRepo := postgres.NewConversationRepository(db.Pool())
	msgRepo := postgres.NewMessageRepository(db.Pool())
	modeRepo := postgres.NewModeRepository(db.Pool())
	chatRepo := postgres.NewChatRepository(db.Pool())

	// Initialize Matrix transport
	matrixCfg := matrix.Config{
		Homeserver:   cfg.Matrix.Homeserver,
		UserID:       cfg.Matrix.UserID,
		AccessToken:  cfg.Matrix.AccessToken,
		AllowedRooms: cfg.Matrix.AllowedRooms,
	}
	matrixClient, err := matrix.NewClient(matrixCfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to create matrix client")
	}
	rooms := matrix.NewPresenter(matrixClient)

	// Initialize services
	lifecycleManager := lifecycle.NewManager(lifecycle.Config{
		IdleTimeout:  cfg.Chat.ConversationTimeout,
		MessageLimit: cfg.Chat.MessageLimit,
	}, rooms, convRepo, chatRepo, logger)

	orchestrator := completion.NewOrchestrator(completion.Config{
		ThrottleInterval: cfg.Chat.EditThrottleInterval,
		MessageLimit:     cfg.Chat.MessageLimit,
		MaxMessageCount:  cfg.Chat.MaxMessageCount,
		BackendTimeout:   cfg.Backend.Timeout,
	}, backend, rooms, msgRepo, convRepo, lifecycleManager, logger)

	modeRegistry := mode.NewRegistry(modeRepo, chatRepo, modeCache, logger)

	chatManager := chat.NewManager(chat.Config{
		StartMessage: cfg.Chat.StartMessage,
		MessageLimit: cfg.Chat.MessageLimit,
	}, rooms, convRepo, msgRepo, orchestrator, lifecycleManager, modeRegistry, logger)

	bridge := matrix.NewBridge(matrixCfg, matrixClient, chatManager, logger)
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		if err := bridge.Run(ctx); err != nil {
			logger.WithError(err).Error("matrix bridge error")
			stop()
		}
	}()

	// Initialize API server
	authService := service.NewAuthService(cfg.Server.JWTSecret)
	server := api.NewServer(authService, convRepo, modeRegistry, logger)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Add middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			}).Info("request")
			return nil
		},
	}))

	server.Register(e)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	go func() {
		logger.WithField("addr", addr).Info("server listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server error")
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown error")
	}

	<-bridgeDone
	lifecycleManager.Shutdown()
	orchestrator.Wait()

	logger.Info("server stopped")
}

func newBackend(ctx context.Context, cfg *config.Config) (ai.Backend, error) {
	switch cfg.Backend.Provider {
	case config.ProviderGemini:
		client, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return anthropic.NewClient(cfg.Anthropic.APIKey, cfg.Anthropic.Model, anthropic.WithTimeout(cfg.Backend.Timeout)), nil
	}
}
