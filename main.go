// Command tweet-tender links Telegram chats to X accounts and relays chat commands
// as account actions. It:
//   - Loads configuration and initializes structured logging.
//   - Opens the credential store: Postgres (with idempotent migrations) when DB_DSN
//     is set, otherwise an in-memory store with a file snapshot.
//   - Starts the Telegram long-poll gateway that parses commands and dispatches them.
//   - Exposes an HTTP server with the OAuth /callback plus /healthz, /readyz, /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/onnwee/tweet-tender/auth"
	"github.com/onnwee/tweet-tender/config"
	"github.com/onnwee/tweet-tender/crypto"
	"github.com/onnwee/tweet-tender/db"
	"github.com/onnwee/tweet-tender/dispatch"
	"github.com/onnwee/tweet-tender/server"
	"github.com/onnwee/tweet-tender/store"
	"github.com/onnwee/tweet-tender/telegram"
	"github.com/onnwee/tweet-tender/telemetry"
	"github.com/onnwee/tweet-tender/xapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateTwitterReady(); err != nil {
		slog.Error("configuration incomplete", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateTelegramReady(); err != nil {
		slog.Error("configuration incomplete", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("tweet-tender", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()
	if telemetry.IsTracingEnabled() {
		slog.Info("tracing enabled", slog.String("service", "tweet-tender"))
	}

	// Secrets-at-rest encryption (optional; requires ENCRYPTION_KEY)
	var encryptor crypto.Encryptor
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		encryptor, err = crypto.NewAESEncryptor(key)
		if err != nil {
			slog.Error("invalid ENCRYPTION_KEY", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("token encryption at rest enabled")
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Credential store: Postgres when DB_DSN is set, otherwise a file-snapshot store.
	var credStore store.Store
	var database *sql.DB
	var flusherDone <-chan struct{}
	if cfg.DBDsn != "" {
		database, err = db.Connect()
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()

		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.RunMigrations(database); err != nil {
			slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
				slog.Any("err", err),
				slog.String("component", "db_migrate"))
			if err := db.Migrate(context.Background(), database); err != nil {
				slog.Error("failed to migrate db", slog.Any("err", err))
				os.Exit(1)
			}
		}

		pgOpts := []store.PostgresOption{store.WithPostgresPendingTTL(cfg.PendingTTL)}
		if encryptor != nil {
			pgOpts = append(pgOpts, store.WithPostgresEncryptor(encryptor))
		}
		credStore = store.NewPostgresStore(database, pgOpts...)
	} else {
		memOpts := []store.MemoryOption{
			store.WithSnapshotFile(cfg.StateFile),
			store.WithPendingTTL(cfg.PendingTTL),
		}
		if encryptor != nil {
			memOpts = append(memOpts, store.WithEncryptor(encryptor))
		}
		mem := store.NewMemoryStore(memOpts...)
		if err := mem.Load(); err != nil {
			slog.Warn("snapshot load failed, starting empty", slog.Any("err", err))
		}
		flusherDone = mem.StartSnapshotFlusher(ctx, 5*time.Minute)
		credStore = mem
	}

	// Core wiring: X client, handshake engine, dispatcher, Telegram gateway.
	x := &xapi.Client{
		ConsumerKey:    cfg.TwitterConsumerKey,
		ConsumerSecret: cfg.TwitterConsumerSecret,
	}
	engine := auth.NewEngine(credStore, x, cfg.CallbackBaseURL)
	dispatcher := dispatch.NewDispatcher(credStore, x, engine)
	botAPI := telegram.NewAPI(nil, cfg.TelegramBaseURL, cfg.TelegramBotToken)
	gateway := telegram.NewGateway(botAPI, dispatcher, cfg.TelegramPollTimeout)

	go func() {
		if err := gateway.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("telegram gateway stopped", slog.Any("err", err))
			stop()
		}
	}()

	// HTTP server (callback/health/metrics)
	handlers := server.NewHandlers(cfg, credStore, engine, gateway, database)
	slog.Info("http server starting", slog.String("addr", cfg.HTTPAddr))
	srvErr := server.Start(ctx, handlers, cfg.HTTPAddr)

	// Make sure the final snapshot has landed before the process exits.
	stop()
	if flusherDone != nil {
		<-flusherDone
	}
	if srvErr != nil {
		slog.Error("http server failed", slog.Any("err", srvErr))
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}
