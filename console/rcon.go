package console

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorcon/rcon"
)

// ErrAuthRejected indicates the server refused our credentials. This is fatal
// for the session; retrying with the same password cannot succeed.
var ErrAuthRejected = errors.New("console authentication rejected")

// netConn adapts the rcon client to the session's two-phase Conn. The client
// couples the TCP connect and the auth handshake into a single dial, so the
// network work happens in Authenticate and the session attributes it to the
// authenticating phase.
type netConn struct {
	addr    string
	timeout time.Duration
	rc      *rcon.Conn
}

// NetDialer returns the production DialFunc speaking the Source remote-console
// protocol to the game server.
func NetDialer(addr string, timeout time.Duration) DialFunc {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return func(ctx context.Context) (Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &netConn{addr: addr, timeout: timeout}, nil
	}
}

func (c *netConn) Authenticate(password string) error {
	rc, err := rcon.Dial(c.addr, password,
		rcon.SetDialTimeout(c.timeout),
		rcon.SetDeadline(c.timeout),
	)
	if err != nil {
		if rc != nil {
			_ = rc.Close()
		}
		if errors.Is(err, rcon.ErrAuthFailed) {
			return fmt.Errorf("%w: %s", ErrAuthRejected, c.addr)
		}
		return fmt.Errorf("dial console: %w", err)
	}
	c.rc = rc
	return nil
}

func (c *netConn) Execute(cmd string) (string, error) {
	if c.rc == nil {
		return "", errors.New("console connection not established")
	}
	return c.rc.Execute(cmd)
}

func (c *netConn) Close() error {
	if c.rc == nil {
		return nil
	}
	return c.rc.Close()
}
