package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/onnwee/tweet-tender/auth"
	"github.com/onnwee/tweet-tender/config"
	"github.com/onnwee/tweet-tender/store"
	"github.com/onnwee/tweet-tender/telemetry"
)

// Notifier delivers a short message to a chat; the Telegram gateway implements it.
type Notifier interface {
	NotifyChat(ctx context.Context, chatID, text string) error
}

// Handlers holds dependencies for HTTP handlers. db is nil when the in-memory
// store is in use.
type Handlers struct {
	cfg      *config.Config
	store    store.Store
	engine   *auth.Engine
	notifier Notifier
	db       *sql.DB
}

// NewHandlers wires the handler dependencies.
func NewHandlers(cfg *config.Config, s store.Store, engine *auth.Engine, notifier Notifier, db *sql.DB) *Handlers {
	return &Handlers{cfg: cfg, store: s, engine: engine, notifier: notifier, db: db}
}

// HandleCallback completes an authorization: the remote service redirects the user
// here with the approved request token and verifier, plus the chat id we embedded
// in the callback URL. The body is a short status string the user sees in their
// browser; the real confirmation goes to the chat.
func (h *Handlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	requestToken := q.Get("oauth_token")
	verifier := q.Get("oauth_verifier")
	chatID := q.Get("chat_id")
	logger := telemetry.LoggerWithCorr(r.Context())

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if requestToken == "" || verifier == "" || chatID == "" {
		logger.Warn("callback missing parameters", slog.String("path", r.URL.Path))
		_, _ = w.Write([]byte("Failed"))
		return
	}

	acct, err := h.engine.CompleteAuthorization(r.Context(), requestToken, verifier)
	if err != nil {
		telemetry.HandshakesFailed.Inc()
		logger.Error("authorization callback failed", slog.String("chat_id", chatID), slog.Any("err", err))
		_, _ = w.Write([]byte("Failed"))
		return
	}
	if err := h.store.PutLinked(r.Context(), chatID, acct); err != nil {
		telemetry.HandshakesFailed.Inc()
		logger.Error("failed to store linked account", slog.String("chat_id", chatID), slog.Any("err", err))
		_, _ = w.Write([]byte("Failed"))
		return
	}
	telemetry.HandshakesCompleted.Inc()
	if n, cerr := h.store.CountLinked(r.Context()); cerr == nil {
		telemetry.SetLinkedAccounts(n)
	}

	msg := fmt.Sprintf("Successfully authenticated as: https://x.com/%s", acct.Username)
	logger.Info("account linked", slog.String("chat_id", chatID), slog.String("username", acct.Username))
	if h.notifier != nil {
		if err := h.notifier.NotifyChat(r.Context(), chatID, msg); err != nil {
			logger.Warn("failed to notify chat", slog.String("chat_id", chatID), slog.Any("err", err))
		}
	}
	_, _ = w.Write([]byte("Success"))
}

// HandleHealthz responds to liveness probe requests; with a database configured it
// also checks connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with per-dependency checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"credentials", func() error { return h.cfg.ValidateTwitterReady() }},
		{"database", func() error {
			if h.db == nil {
				return nil
			}
			return h.db.PingContext(r.Context())
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
