// Package console owns the single persistent connection to the game server's
// remote console. Command submission is serialized through a bounded queue
// and a single run goroutine; the underlying connection never escapes the
// package.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/onnwee/factorio-relay/telemetry"
)

// State is the console session lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	// StateFailed is terminal: the server rejected our credentials and
	// operator intervention is required.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Command is a single console command awaiting submission.
type Command struct {
	Text        string
	Fingerprint string // originating event fingerprint, for log correlation
}

// Conn is an unauthenticated control connection as produced by a DialFunc.
type Conn interface {
	Authenticate(password string) error
	Execute(cmd string) (string, error)
	Close() error
}

// DialFunc establishes the transport connection. Production uses NetDialer;
// tests inject fakes here.
type DialFunc func(ctx context.Context) (Conn, error)

// ErrQueueFull is returned by Submit when the bounded queue is at capacity.
// The newest command is the one dropped: stale relay commands are not worth
// unbounded memory.
var ErrQueueFull = errors.New("console command queue full")

// errReconnectRequested signals an administrative reconnect; not an error
// condition.
var errReconnectRequested = errors.New("reconnect requested")

const (
	defaultBackoffMin = time.Second
	defaultBackoffMax = time.Minute
)

// Session is the console session state machine. Create with NewSession, then
// call Run exactly once; Submit may be called from any goroutine.
type Session struct {
	dial     DialFunc
	password string
	logger   *slog.Logger

	backoffMin time.Duration
	backoffMax time.Duration

	state     atomic.Int32
	queue     chan Command
	reconnect chan struct{}

	// pending is the command taken off the queue whose submission has not
	// yet succeeded; it is retried first after a reconnect so no accepted
	// command is lost to a transient outage. Only the run goroutine touches it.
	pending *Command
}

// NewSession creates a session. queueLen bounds the number of commands held
// while the console is unavailable.
func NewSession(dial DialFunc, password string, queueLen int) *Session {
	if queueLen <= 0 {
		queueLen = 256
	}
	return &Session{
		dial:       dial,
		password:   password,
		logger:     slog.Default().With(slog.String("component", "console")),
		backoffMin: defaultBackoffMin,
		backoffMax: defaultBackoffMax,
		queue:      make(chan Command, queueLen),
		reconnect:  make(chan struct{}, 1),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// QueueDepth returns the number of commands waiting for submission.
func (s *Session) QueueDepth() int { return len(s.queue) }

// Submit enqueues a command for serialized submission. It never blocks: when
// the queue is full the command is dropped and ErrQueueFull returned.
// Submission order is preserved across transient outages.
func (s *Session) Submit(cmd Command) error {
	if s.State() == StateFailed {
		return fmt.Errorf("console session failed: %w", ErrAuthRejected)
	}
	select {
	case s.queue <- cmd:
		telemetry.SetQueueDepth(len(s.queue))
		return nil
	default:
		telemetry.CommandsDropped.Inc()
		s.logger.Warn("command queue full, dropping command",
			slog.String("fingerprint", cmd.Fingerprint))
		return ErrQueueFull
	}
}

// RequestReconnect asks the run loop to drop the current connection and
// redial. Used by the administrative surface.
func (s *Session) RequestReconnect() {
	select {
	case s.reconnect <- struct{}{}:
	default:
	}
}

// Run drives the state machine until ctx is canceled or authentication is
// rejected. Network-level failures are retried indefinitely with capped
// exponential backoff; auth rejection is fatal and returned to the caller.
func (s *Session) Run(ctx context.Context) error {
	defer telemetry.SetConsoleReady(false)
	backoff := s.backoffMin
	for {
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return nil
		}

		conn, err := s.connect(ctx)
		if err != nil {
			if errors.Is(err, ErrAuthRejected) {
				s.setState(StateFailed)
				telemetry.ConsoleAuthFailure.Inc()
				s.logger.Error("console rejected credentials; operator action required", slog.Any("err", err))
				return err
			}
			s.setState(StateDisconnected)
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("console connect failed", slog.Any("err", err), slog.Duration("retry_in", backoff))
			telemetry.ConsoleReconnects.Inc()
			if !sleepCtx(ctx, withJitter(backoff)) {
				return nil
			}
			backoff = min(backoff*2, s.backoffMax)
			continue
		}

		s.setState(StateReady)
		telemetry.SetConsoleReady(true)
		backoff = s.backoffMin
		s.logger.Info("console session ready", slog.Int("queued", len(s.queue)))

		err = s.serve(ctx, conn)
		_ = conn.Close()
		telemetry.SetConsoleReady(false)
		s.setState(StateDisconnected)

		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, errReconnectRequested):
			s.logger.Info("reconnecting on request")
		default:
			s.logger.Warn("console session lost", slog.Any("err", err))
			telemetry.ConsoleReconnects.Inc()
		}
	}
}

// connect walks Disconnected -> Connecting -> Authenticating and returns an
// authenticated connection.
func (s *Session) connect(ctx context.Context) (Conn, error) {
	s.setState(StateConnecting)
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial console: %w", err)
	}
	s.setState(StateAuthenticating)
	if err := conn.Authenticate(s.password); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// serve submits queued commands one at a time until the connection breaks,
// a reconnect is requested, or ctx is canceled. The in-flight command is
// always allowed to finish or time out before the loop yields.
func (s *Session) serve(ctx context.Context, conn Conn) error {
	for {
		if s.pending == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.reconnect:
				return errReconnectRequested
			case cmd := <-s.queue:
				s.pending = &cmd
				telemetry.SetQueueDepth(len(s.queue))
			}
		}

		start := time.Now()
		resp, err := conn.Execute(s.pending.Text)
		if err != nil {
			// Keep pending for retry after reconnect.
			return fmt.Errorf("execute command: %w", err)
		}
		telemetry.CommandsSubmitted.Inc()
		telemetry.CommandDuration.Observe(time.Since(start).Seconds())
		s.logger.Debug("command submitted",
			slog.String("fingerprint", s.pending.Fingerprint),
			slog.Duration("took", time.Since(start)),
			slog.Int("response_len", len(resp)))
		s.pending = nil
	}
}

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// withJitter spreads reconnect attempts by up to 20% of d.
func withJitter(d time.Duration) time.Duration {
	//nolint:gosec // G404: math/rand is sufficient for backoff jitter, not used for security
	return d + time.Duration(rand.Int63n(int64(d)/5+1))
}

// sleepCtx sleeps for d, returning false if ctx was canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
