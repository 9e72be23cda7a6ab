package relay

import (
	"context"
	"errors"
	"log/slog"

	"github.com/onnwee/factorio-relay/console"
	"github.com/onnwee/factorio-relay/eventsub"
	"github.com/onnwee/factorio-relay/identity"
	"github.com/onnwee/factorio-relay/tailer"
	"github.com/onnwee/factorio-relay/telemetry"
	"github.com/onnwee/factorio-relay/twitchchat"
)

// ConsoleSubmitter is the slice of the console session the inbound pipeline
// uses.
type ConsoleSubmitter interface {
	Submit(cmd console.Command) error
}

// ChatDeliverer is the slice of the chat sender the pipelines use. A nil
// deliverer disables the outbound direction and echo suppression.
type ChatDeliverer interface {
	Deliver(ctx context.Context, msg twitchchat.Message) error
	RecentlySent(text string) bool
}

// Orchestrator owns the two relay pipelines. Failures are contained per
// event and per line; only context cancellation stops a pipeline.
type Orchestrator struct {
	store   identity.Store
	console ConsoleSubmitter
	chat    ChatDeliverer
	logger  *slog.Logger
	events  chan eventsub.Event
}

func NewOrchestrator(store identity.Store, cons ConsoleSubmitter, chat ChatDeliverer) *Orchestrator {
	return &Orchestrator{
		store:   store,
		console: cons,
		chat:    chat,
		logger:  slog.Default().With(slog.String("component", "relay")),
		events:  make(chan eventsub.Event, 64),
	}
}

// Enqueue hands a verified, deduplicated event to the inbound pipeline. It
// never blocks the webhook handler; when the pipeline is backed up the event
// is dropped with a warning.
func (o *Orchestrator) Enqueue(ev eventsub.Event) {
	select {
	case o.events <- ev:
	default:
		o.logger.Warn("inbound pipeline backed up, dropping event",
			slog.String("kind", ev.Kind), slog.String("fingerprint", ev.Fingerprint))
	}
}

// RunInbound consumes enqueued events until ctx is canceled.
func (o *Orchestrator) RunInbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-o.events:
			o.handleEvent(ctx, ev)
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev eventsub.Event) {
	// Chat the relay itself posted comes back as a chat event; relaying it
	// into the game would loop.
	if ev.Kind == KindChatMessage && o.chat != nil && o.chat.RecentlySent(MessageText(ev)) {
		o.logger.Debug("suppressing own chat echo", slog.String("fingerprint", ev.Fingerprint))
		return
	}

	var link identity.Link
	var linked bool
	if o.store != nil {
		var err error
		link, linked, err = o.store.Resolve(ctx, ev.SourcePlatform, ev.SourceUserID)
		if err != nil {
			o.logger.Error("identity resolve failed", slog.Any("err", err),
				slog.String("user", ev.SourceUserID))
			return
		}
	}
	if !linked && RequiresLink(ev.Kind) {
		// Steady state for most of the audience, not a fault.
		telemetry.EventsUnresolved.Inc()
		o.logger.Info("no identity link for event, dropping",
			slog.String("kind", ev.Kind), slog.String("user", ev.SourceUserID))
		return
	}

	cmds := TranslateCommand(ev, link, linked)
	if len(cmds) == 0 {
		o.logger.Debug("event translated to nothing", slog.String("kind", ev.Kind))
		return
	}
	telemetry.EventsTranslated.Inc()
	for _, cmd := range cmds {
		if err := o.console.Submit(cmd); err != nil {
			if errors.Is(err, console.ErrQueueFull) {
				o.logger.Warn("command queue full, dropping command",
					slog.String("command", cmd.Text))
				continue
			}
			o.logger.Error("command submit failed", slog.Any("err", err),
				slog.String("command", cmd.Text))
		}
	}
}

// RunOutbound consumes tailed log lines until ctx is canceled or the line
// channel closes.
func (o *Orchestrator) RunOutbound(ctx context.Context, lines <-chan tailer.Line) error {
	if o.chat == nil {
		return errors.New("outbound pipeline requires a chat deliverer")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			for _, msg := range TranslateOutbound(ctx, line.Text, o.store) {
				if err := o.chat.Deliver(ctx, msg); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					telemetry.ChatDeliveryError.Inc()
					o.logger.Warn("chat delivery failed", slog.Any("err", err))
				}
			}
		}
	}
}
