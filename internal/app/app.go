package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ficsync/internal/retention"
	"ficsync/pkg/auth"
	"ficsync/pkg/cache"
	"ficsync/pkg/config"
	"ficsync/pkg/logger"
	"ficsync/pkg/models"
	"ficsync/pkg/realtime"
	"ficsync/pkg/rest"
	msgsync "ficsync/pkg/sync"
)

// App wires the sync components for one conversation: token store, REST
// client, optional cache, realtime transport and session, plus the debug
// metrics listener and the retention scheduler.
type App struct {
	eff            *config.EffectiveConfig
	conversationID string
	version        string

	tokens  *auth.Store
	rest    *rest.Client
	cache   *cache.Cache
	conn    *realtime.Conn
	session *msgsync.Session
	conv    models.Conversation

	metricsSrv      *http.Server
	retentionCancel context.CancelFunc
}

// New builds the pieces that need no running context. Open starts the
// session; Close tears everything down.
func New(eff *config.EffectiveConfig, conversationID, version string) (*App, error) {
	cfg := eff.Config
	if cfg.API.BaseURL == "" {
		return nil, fmt.Errorf("api.base_url not configured (flag -api, FICSYNC_API_BASE_URL or config file)")
	}
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id required (flag -conversation)")
	}

	tokens, err := auth.NewStore(cfg.Auth.TokenFile)
	if err != nil {
		return nil, err
	}

	a := &App{
		eff:            eff,
		conversationID: conversationID,
		version:        version,
		tokens:         tokens,
		rest:           rest.New(cfg.API.BaseURL, tokens, cfg.APITimeout()),
	}

	if cfg.Cache.Enabled {
		path := cfg.Cache.Path
		if path == "" {
			path = "./.ficsync"
		}
		c, err := cache.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache at %s: %w", path, err)
		}
		a.cache = c
	}
	return a, nil
}

// Open fetches conversation metadata and history, joins the realtime
// channel and starts the session plus background services.
func (a *App) Open(ctx context.Context, notifier msgsync.Notifier) error {
	cfg := a.eff.Config

	conv, err := a.rest.FetchConversation(ctx, a.conversationID)
	if err != nil {
		logger.Warn("conversation_fetch_failed", "conversation", a.conversationID, "error", err)
		if a.cache != nil {
			if cached, cerr := a.cache.GetConversation(a.conversationID); cerr == nil {
				conv = cached
			}
		}
	} else if a.cache != nil {
		if err := a.cache.PutConversation(conv); err != nil {
			logger.Warn("conversation_cache_failed", "error", err)
		}
	}
	a.conv = conv

	initial, err := a.rest.FetchMessages(ctx, a.conversationID, cfg.HistoryLimit())
	if err != nil {
		logger.Warn("history_fetch_failed", "conversation", a.conversationID, "error", err)
		if a.cache != nil {
			if cached, cerr := a.cache.ListMessages(a.conversationID, cfg.HistoryLimit()); cerr == nil && len(cached) > 0 {
				logger.Info("history_from_cache", "conversation", a.conversationID, "count", len(cached))
				initial = cached
			}
		}
		if notifier != nil && len(initial) == 0 {
			notifier.Notify("Could not load conversation history.")
		}
	}

	rtURL, err := cfg.RealtimeURL()
	if err != nil {
		return err
	}
	conn, err := realtime.Open(realtime.Options{
		URL:               rtURL,
		ConversationID:    a.conversationID,
		Tokens:            a.tokens,
		ReconnectAttempts: cfg.ReconnectAttempts(),
		ReconnectDelay:    cfg.ReconnectDelay(),
		TypingRate:        cfg.Realtime.TypingRate,
		TypingBurst:       cfg.Realtime.TypingBurst,
	})
	if err != nil {
		return err
	}
	a.conn = conn

	var sessCache msgsync.Cache
	if a.cache != nil {
		sessCache = a.cache
	}
	sess, err := msgsync.Open(msgsync.Options{
		ConversationID: a.conversationID,
		Rest:           a.rest,
		Transport:      conn,
		Initial:        initial,
		Notifier:       notifier,
		Cache:          sessCache,
		FeedbackWindow: cfg.FeedbackWindow(),
	})
	if err != nil {
		conn.Close()
		return err
	}
	a.session = sess

	if cfg.Metrics.Addr != "" {
		a.startMetrics(cfg.Metrics.Addr)
	}

	cancel, err := retention.Start(ctx, cfg, a.cache)
	if err != nil {
		return err
	}
	a.retentionCancel = cancel
	return nil
}

// Session returns the running session; nil before Open.
func (a *App) Session() *msgsync.Session { return a.session }

// Conversation returns the metadata loaded during Open.
func (a *App) Conversation() models.Conversation { return a.conv }

func (a *App) startMetrics(addr string) {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	a.metricsSrv = &http.Server{Addr: addr, Handler: r}
	go func() {
		logger.Info("metrics_listening", "addr", addr)
		if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics_server_failed", "error", err)
		}
	}()
}

// Close tears down the session, connection, background services and cache.
// It must run unconditionally so nothing leaks across invocations.
func (a *App) Close() {
	if a.session != nil {
		a.session.Close()
	}
	if a.retentionCancel != nil {
		a.retentionCancel()
	}
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = a.metricsSrv.Shutdown(ctx)
		cancel()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Warn("cache_close_failed", "error", err)
		}
	}
}
