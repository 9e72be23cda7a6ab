// Command factorio-relay bridges a Twitch channel and a Factorio server.
// It:
//   - Receives EventSub webhook deliveries, verifies and deduplicates them,
//     and translates them into console commands sent over RCON.
//   - Tails the bridge log the game writes and relays chat, joins, and leaves
//     back into Twitch chat over IRC.
//   - Exposes a minimal HTTP server with /webhook/eventsub, /healthz,
//     /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/onnwee/factorio-relay/config"
	"github.com/onnwee/factorio-relay/console"
	"github.com/onnwee/factorio-relay/db"
	"github.com/onnwee/factorio-relay/eventsub"
	"github.com/onnwee/factorio-relay/identity"
	"github.com/onnwee/factorio-relay/relay"
	"github.com/onnwee/factorio-relay/server"
	"github.com/onnwee/factorio-relay/tailer"
	"github.com/onnwee/factorio-relay/telemetry"
	"github.com/onnwee/factorio-relay/twitchapi"
	"github.com/onnwee/factorio-relay/twitchchat"
)

func main() {
	// Config (loads .env first as a local dev convenience).
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
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
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", cfg.LogLevel))
	}
	var handler slog.Handler
	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", cfg.LogFormat))

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("factorio-relay", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// The webhook secret and console credentials are the relay's reason to
	// exist; refuse to start without them.
	if err := cfg.ValidateWebhookReady(); err != nil {
		slog.Error("webhook not configured", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateConsoleReady(); err != nil {
		slog.Error("console not configured", slog.Any("err", err))
		os.Exit(1)
	}

	// DB
	database, err := db.Connect(cfg.DBDsn)
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
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := &identity.PostgresStore{DB: database}
	dedup := eventsub.NewDeduplicator(cfg.DedupWindow, cfg.DedupMaxEntries)

	// Background loops are tracked so shutdown waits for each to finish its
	// cleanup, in particular the tailer's checkpoint flush.
	var wg sync.WaitGroup

	// Console session: dials the game server and executes queued commands.
	sess := console.NewSession(
		console.NetDialer(cfg.RconAddr, cfg.RconDialTimeout),
		cfg.RconPassword,
		cfg.CommandQueueLen,
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sess.Run(ctx); err != nil {
			slog.Error("console session terminated", slog.Any("err", err))
		}
	}()

	// Log tailer: follows the bridge log with a persisted offset.
	tail := tailer.New(cfg.GameLogPath, cfg.TailPollInterval,
		&db.TailCheckpoint{DB: database, Key: "tail_offset"})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tail.Run(ctx); err != nil {
			slog.Error("tailer terminated", slog.Any("err", err))
		}
	}()

	// Outbound chat is optional; without bot credentials the relay still
	// accepts events and drives the console.
	var sender *twitchchat.Sender
	var deliverer relay.ChatDeliverer
	if err := cfg.ValidateChatReady(); err == nil {
		sender = twitchchat.NewSender(cfg.TwitchBotUsername, cfg.TwitchOAuthToken,
			cfg.TwitchChannel, cfg.ChatSendRate, cfg.ChatSendBurst)
		deliverer = sender
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sender.Run(ctx); err != nil {
				slog.Error("chat sender terminated", slog.Any("err", err))
			}
		}()
	} else {
		slog.Info("outbound chat disabled", slog.Any("reason", err))
	}

	orch := relay.NewOrchestrator(store, sess, deliverer)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := orch.RunInbound(ctx); err != nil {
			slog.Error("inbound pipeline terminated", slog.Any("err", err))
		}
	}()
	if deliverer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := orch.RunOutbound(ctx, tail.Lines()); err != nil {
				slog.Error("outbound pipeline terminated", slog.Any("err", err))
			}
		}()
	}

	// Best-effort: make sure the EventSub webhook subscriptions exist for the
	// configured broadcaster.
	if err := cfg.ValidateHelixReady(); err == nil {
		go reconcileSubscriptions(ctx, cfg)
	} else {
		slog.Info("eventsub reconciliation disabled", slog.Any("reason", err))
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (webhook/health/status/metrics)
	handlers := server.NewHandlers(database, []byte(cfg.EventSubSecret), dedup, orch, sess, tail)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx, cfg.HTTPAddr, handlers); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal, then wait for every loop to finish so the
	// tailer checkpoint and in-flight console command are not cut off mid-write.
	<-ctx.Done()
	slog.Info("shutting down")
	wg.Wait()
	slog.Info("shutdown complete")
}

// reconcileSubscriptions resolves the broadcaster and bot user ids and
// creates any missing webhook subscriptions. Failures are logged, not fatal:
// subscriptions may already exist or be managed out of band.
func reconcileSubscriptions(ctx context.Context, cfg *config.Config) {
	rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := twitchapi.NewClient(cfg.TwitchClientID, cfg.TwitchClientSecret)
	broadcasterID, err := client.GetUserID(rctx, cfg.TwitchChannel)
	if err != nil {
		slog.Warn("broadcaster resolution failed", slog.Any("err", err),
			slog.String("channel", cfg.TwitchChannel))
		return
	}
	botID := broadcasterID
	if cfg.TwitchBotUsername != "" && cfg.TwitchBotUsername != cfg.TwitchChannel {
		if id, err := client.GetUserID(rctx, cfg.TwitchBotUsername); err == nil {
			botID = id
		} else {
			slog.Warn("bot user resolution failed, using broadcaster id", slog.Any("err", err))
		}
	}

	callback := strings.TrimRight(cfg.CallbackURL, "/") + "/webhook/eventsub"
	if err := client.ReconcileSubscriptions(rctx, broadcasterID, botID, callback, cfg.EventSubSecret); err != nil {
		slog.Warn("eventsub reconciliation failed", slog.Any("err", err))
		return
	}
	slog.Info("eventsub subscriptions reconciled",
		slog.String("broadcaster_id", broadcasterID), slog.String("callback", callback))
}
