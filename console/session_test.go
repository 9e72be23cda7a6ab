package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/factorio-relay/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	m.Run()
}

// fakeConn records executed commands and can fail on demand.
type fakeConn struct {
	mu        sync.Mutex
	executed  []string
	authErr   error
	execErrAt int // fail the Nth Execute call (1-based); 0 = never
	calls     int
	closed    bool
}

func (f *fakeConn) Authenticate(string) error { return f.authErr }

func (f *fakeConn) Execute(cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.execErrAt != 0 && f.calls == f.execErrAt {
		return "", errors.New("broken pipe")
	}
	f.executed = append(f.executed, cmd)
	return "", nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.executed))
	copy(out, f.executed)
	return out
}

func fastSession(dial DialFunc, queueLen int) *Session {
	s := NewSession(dial, "pw", queueLen)
	s.backoffMin = time.Millisecond
	s.backoffMax = 5 * time.Millisecond
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestQueuedCommandsFlushInOrder(t *testing.T) {
	// Dial fails twice before the console becomes reachable; commands
	// submitted while Disconnected must be delivered in arrival order.
	conn := &fakeConn{}
	var dials int
	dial := func(context.Context) (Conn, error) {
		dials++
		if dials <= 2 {
			return nil, errors.New("connection refused")
		}
		return conn, nil
	}

	s := fastSession(dial, 16)
	for i := 0; i < 5; i++ {
		if err := s.Submit(Command{Text: fmt.Sprintf("cmd-%d", i)}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return len(conn.commands()) == 5 })
	got := conn.commands()
	for i, cmd := range got {
		if want := fmt.Sprintf("cmd-%d", i); cmd != want {
			t.Errorf("command[%d] = %q, want %q", i, cmd, want)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v on cancellation, want nil", err)
	}
}

func TestQueueOverflowDropsNewest(t *testing.T) {
	// Never-connecting session: the queue fills and the newest submission
	// is the one rejected.
	s := fastSession(func(context.Context) (Conn, error) {
		return nil, errors.New("unreachable")
	}, 2)

	if err := s.Submit(Command{Text: "a"}); err != nil {
		t.Fatalf("Submit a: %v", err)
	}
	if err := s.Submit(Command{Text: "b"}); err != nil {
		t.Fatalf("Submit b: %v", err)
	}
	if err := s.Submit(Command{Text: "c"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Submit c = %v, want ErrQueueFull", err)
	}
	if s.QueueDepth() != 2 {
		t.Errorf("QueueDepth = %d, want 2", s.QueueDepth())
	}
}

func TestAuthRejectionIsFatal(t *testing.T) {
	conn := &fakeConn{authErr: ErrAuthRejected}
	s := fastSession(func(context.Context) (Conn, error) { return conn, nil }, 4)

	err := s.Run(context.Background())
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("Run = %v, want ErrAuthRejected", err)
	}
	if s.State() != StateFailed {
		t.Errorf("State = %v, want failed", s.State())
	}
	if err := s.Submit(Command{Text: "x"}); err == nil {
		t.Error("Submit after fatal auth failure succeeded, want error")
	}
}

func TestInFlightCommandRetriedAfterReconnect(t *testing.T) {
	// The first Execute breaks the connection; the command must be retried
	// on the next connection, exactly once, before later commands.
	first := &fakeConn{execErrAt: 1}
	second := &fakeConn{}
	var dials int
	dial := func(context.Context) (Conn, error) {
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	}

	s := fastSession(dial, 16)
	_ = s.Submit(Command{Text: "survivor"})
	_ = s.Submit(Command{Text: "follow-up"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	waitFor(t, func() bool { return len(second.commands()) == 2 })
	got := second.commands()
	if got[0] != "survivor" || got[1] != "follow-up" {
		t.Errorf("retried order = %v, want [survivor follow-up]", got)
	}
	if len(first.commands()) != 0 {
		t.Errorf("first conn executed %v, want none recorded", first.commands())
	}
}

func TestRequestReconnectRedials(t *testing.T) {
	conns := []*fakeConn{{}, {}}
	var dials int
	dial := func(context.Context) (Conn, error) {
		c := conns[min(dials, len(conns)-1)]
		dials++
		return c, nil
	}

	s := fastSession(dial, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	waitFor(t, func() bool { return s.State() == StateReady })
	s.RequestReconnect()
	waitFor(t, func() bool { return dials >= 2 })

	_ = s.Submit(Command{Text: "after"})
	waitFor(t, func() bool { return len(conns[1].commands()) == 1 })
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateAuthenticating, "authenticating"},
		{StateReady, "ready"},
		{StateFailed, "failed"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
