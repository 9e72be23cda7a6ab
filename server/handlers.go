package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/factorio-relay/console"
	"github.com/onnwee/factorio-relay/eventsub"
	"github.com/onnwee/factorio-relay/telemetry"
)

// maxWebhookBody bounds how much of a webhook delivery is read.
const maxWebhookBody = 1 << 20

// EventSink receives verified, deduplicated events for the inbound pipeline.
type EventSink interface {
	Enqueue(ev eventsub.Event)
}

// ConsoleStatus is the read side of the console session for /status and
// /readyz.
type ConsoleStatus interface {
	State() console.State
	QueueDepth() int
}

// TailStatus is the read side of the log tailer for /status.
type TailStatus interface {
	Offset() int64
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	db      *sql.DB
	secret  []byte
	dedup   *eventsub.Deduplicator
	sink    EventSink
	console ConsoleStatus
	tail    TailStatus
}

// NewHandlers wires the handler dependencies. console and tail may be nil
// when those subsystems are not configured; /status reports them as absent.
func NewHandlers(db *sql.DB, secret []byte, dedup *eventsub.Deduplicator, sink EventSink, cons ConsoleStatus, tail TailStatus) *Handlers {
	return &Handlers{db: db, secret: secret, dedup: dedup, sink: sink, console: cons, tail: tail}
}

// HandleWebhook receives EventSub deliveries. Signature verification comes
// before everything else; a delivery that fails it causes no side effect at
// all. Verified deliveries are acknowledged with 200 regardless of what the
// pipeline later makes of them, so the platform never retries work we have
// accepted.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "webhook"))
	telemetry.EventsReceived.Inc()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	msgID := r.Header.Get(eventsub.HeaderMessageID)
	timestamp := r.Header.Get(eventsub.HeaderMessageTimestamp)
	declared := r.Header.Get(eventsub.HeaderMessageSignature)
	if err := eventsub.VerifySignature(h.secret, msgID, timestamp, body, declared); err != nil {
		telemetry.EventsRejected.Inc()
		log.Warn("webhook signature rejected", slog.String("remote_addr", r.RemoteAddr))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	if err := eventsub.CheckTimestamp(timestamp, time.Now()); err != nil {
		telemetry.EventsRejected.Inc()
		log.Warn("webhook timestamp rejected", slog.Any("err", err))
		http.Error(w, "stale delivery", http.StatusUnauthorized)
		return
	}

	switch r.Header.Get(eventsub.HeaderMessageType) {
	case eventsub.MessageTypeVerification:
		challenge, err := eventsub.ParseChallenge(body)
		if err != nil {
			http.Error(w, "bad verification body", http.StatusBadRequest)
			return
		}
		log.Info("webhook callback verified")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(challenge))
		return
	case eventsub.MessageTypeRevocation:
		log.Warn("eventsub subscription revoked", slog.String("body", string(body)))
		w.WriteHeader(http.StatusOK)
		return
	}

	// Parse before the dedup check. A malformed body must not record its
	// fingerprint: the platform retries it, and a later well-formed delivery
	// of the same message would otherwise be swallowed as a duplicate.
	fp := eventsub.Fingerprint(msgID, body)
	ev, err := eventsub.ParseNotification(body, fp)
	if err != nil {
		log.Warn("unparseable notification", slog.Any("err", err))
		http.Error(w, "bad notification body", http.StatusBadRequest)
		return
	}
	if h.dedup.Seen(fp) {
		telemetry.EventsDuplicate.Inc()
		log.Debug("duplicate delivery dropped", slog.String("fingerprint", fp))
		w.WriteHeader(http.StatusOK)
		return
	}
	h.sink.Enqueue(ev)
	w.WriteHeader(http.StatusOK)
}

// HandleHealthz responds to liveness probe requests.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.db == nil {
				return nil
			}
			return h.db.PingContext(r.Context())
		}},
		{"console", func() error {
			if h.console != nil && h.console.State() == console.StateFailed {
				return errors.New("console session failed (bad password?)")
			}
			return nil
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

// HandleStatus reports a JSON snapshot of the relay's moving parts.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"dedup_entries": h.dedup.Len(),
	}
	if h.console != nil {
		status["console_state"] = h.console.State().String()
		status["command_queue_depth"] = h.console.QueueDepth()
	}
	if h.tail != nil {
		status["tail_offset"] = h.tail.Offset()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		slog.Warn("failed to encode status", slog.Any("err", err))
	}
}
