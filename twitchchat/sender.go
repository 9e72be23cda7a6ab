// Package twitchchat delivers outbound messages to a Twitch channel over IRC.
package twitchchat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"golang.org/x/time/rate"

	"github.com/onnwee/factorio-relay/telemetry"
)

// Message is one outbound chat line.
type Message struct {
	Text string
}

// ircClient is the subset of the IRC client the sender needs; tests swap in
// a recording fake.
type ircClient interface {
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
}

// Sender posts messages to one channel, rate limited, and remembers what it
// recently sent so the inbound pipeline can ignore its own chat echoes.
type Sender struct {
	client  ircClient
	channel string
	limiter *rate.Limiter
	logger  *slog.Logger
	recent  *recentSet
}

// NewSender builds a sender for channel authenticated as username. The token
// may be given with or without the "oauth:" prefix.
func NewSender(username, token, channel string, perSecond float64, burst int) *Sender {
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	return newSender(twitch.NewClient(username, token), channel, perSecond, burst)
}

func newSender(client ircClient, channel string, perSecond float64, burst int) *Sender {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Sender{
		client:  client,
		channel: channel,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  slog.Default().With(slog.String("component", "twitchchat")),
		recent:  newRecentSet(64),
	}
}

// Run maintains the IRC connection until ctx is canceled. Connection drops
// are retried with a capped backoff. Cancellation disconnects the client so
// a blocked Connect returns and Run can exit.
func (s *Sender) Run(ctx context.Context) error {
	s.client.Join(s.channel)
	go func() {
		<-ctx.Done()
		_ = s.client.Disconnect()
	}()
	backoff := time.Second
	for {
		err := s.client.Connect()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
			telemetry.ChatDeliveryError.Inc()
			s.logger.Warn("chat connection lost", slog.Any("err", err),
				slog.Duration("retry_in", backoff))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

// Deliver sends one message, blocking on the rate limiter. The text is
// recorded before sending so the echo arriving back through chat events is
// recognizable even when it races the delivery.
func (s *Sender) Deliver(ctx context.Context, msg Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	s.recent.add(msg.Text)
	s.client.Say(s.channel, msg.Text)
	telemetry.ChatDelivered.Inc()
	return nil
}

// RecentlySent reports whether text matches a message this sender posted
// recently. Used to keep the relay's own chat lines out of the game.
func (s *Sender) RecentlySent(text string) bool {
	return s.recent.contains(text)
}

// recentSet is a bounded FIFO membership set. Oldest entries fall out as new
// ones are added past capacity.
type recentSet struct {
	mu    sync.Mutex
	cap   int
	order []string
	count map[string]int
}

func newRecentSet(capacity int) *recentSet {
	return &recentSet{cap: capacity, count: make(map[string]int, capacity)}
}

func (r *recentSet) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, s)
	r.count[s]++
	for len(r.order) > r.cap {
		old := r.order[0]
		r.order = r.order[1:]
		if r.count[old]--; r.count[old] <= 0 {
			delete(r.count, old)
		}
	}
}

func (r *recentSet) contains(s string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count[s] > 0
}
