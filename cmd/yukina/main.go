package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yukina-ai/yukina/internal/agent"
	"github.com/yukina-ai/yukina/internal/api"
	"github.com/yukina-ai/yukina/internal/config"
	"github.com/yukina-ai/yukina/internal/connection"
	"github.com/yukina-ai/yukina/internal/events"
	"github.com/yukina-ai/yukina/internal/history"
	"github.com/yukina-ai/yukina/internal/notify"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting Yukina...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/yukina.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	if lvl, lvlErr := zapcore.ParseLevel(cfg.Server.LogLevel); lvlErr == nil {
		zcfg := zap.NewDevelopmentConfig()
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
		if rebuilt, buildErr := zcfg.Build(); buildErr == nil {
			logger = rebuilt
		}
	}

	// Resolve and load the agent profile
	agentName := os.Getenv("AGENT_NAME")
	if agentName == "" {
		name, nameErr := agent.DefaultAgentName(cfg.Agents.Dir)
		if nameErr != nil {
			logger.Fatal("failed to resolve default agent", zap.Error(nameErr))
		}
		agentName = name
	}
	profile, err := agent.LoadProfileByName(cfg.Agents.Dir, agentName)
	if err != nil {
		logger.Fatal("failed to load agent profile", zap.String("agent", agentName), zap.Error(err))
	}
	logger.Info("Agent profile loaded", zap.String("agent", profile.Name))

	// Initialize connections
	manager := connection.NewManager(profile.Connections, logger)

	// Initialize action history store
	var store *history.Store
	if cfg.Database.Postgres.DSN != "" {
		hs, pgErr := history.New(context.Background(), cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without action history", zap.Error(pgErr))
		} else {
			if mErr := hs.Migrate(context.Background(), cfg.Agents.MigrationsDir); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			store = hs
		}
	}

	// Initialize event bus
	var bus *events.Bus
	if cfg.Events.Redis.URL != "" {
		eb, busErr := events.NewBus(cfg.Events.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without event stream", zap.Error(busErr))
		} else {
			bus = eb
		}
	}

	notifier := notify.NewSlackNotifier(cfg.Notify.Slack.Enabled, cfg.Notify.Slack.BotToken, cfg.Notify.Slack.Channel, logger)

	a := agent.New(profile, manager, logger)
	loop := agent.NewLoop(a, store, bus, notifier, logger)

	if os.Getenv("AUTOSTART") == "true" {
		if startErr := loop.Start(); startErr != nil {
			logger.Warn("autostart failed", zap.Error(startErr))
		}
	}

	// Build HTTP handler
	handler := api.NewHandler(a, manager, loop, store, bus, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Yukina listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Yukina...")
	loop.Stop()
	srv.Shutdown(context.Background())
	if bus != nil {
		bus.Close()
	}
	if store != nil {
		store.Close()
	}
}
