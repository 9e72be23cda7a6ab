// Package testutil provides mock servers used by package tests: a fake game
// server console and a fake Twitch Helix API.
package testutil

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
)

// MockRconServer is an in-process game server console speaking the Source
// RCON wire protocol. It records every executed command and answers each one
// with an empty response body.
type MockRconServer struct {
	Addr     string
	Password string

	ln       net.Listener
	mu       sync.Mutex
	commands []string
}

// NewMockRconServer starts the server on a random local port.
func NewMockRconServer(t *testing.T, password string) *MockRconServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("mock rcon listen: %v", err)
	}
	s := &MockRconServer{Addr: ln.Addr().String(), Password: password, ln: ln}
	go s.acceptLoop()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

// Commands returns the commands executed so far, in order.
func (s *MockRconServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

func (s *MockRconServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serveConn(conn)
	}
}

func (s *MockRconServer) serveConn(conn net.Conn) {
	defer conn.Close()
	authed := false
	for {
		id, typ, body, err := readTestPacket(conn)
		if err != nil {
			return
		}
		switch typ {
		case 3: // auth
			respID := id
			if body != s.Password {
				respID = -1
			} else {
				authed = true
			}
			if err := writeTestPacket(conn, respID, 2, ""); err != nil {
				return
			}
			if respID == -1 {
				return
			}
		case 2: // exec command
			if !authed {
				return
			}
			s.mu.Lock()
			s.commands = append(s.commands, body)
			s.mu.Unlock()
			if err := writeTestPacket(conn, id, 0, ""); err != nil {
				return
			}
		}
	}
}

func writeTestPacket(w io.Writer, id, typ int32, body string) error {
	size := int32(4 + 4 + len(body) + 2)
	buf := make([]byte, 0, size+4)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(id))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(typ))
	buf = append(buf, body...)
	buf = append(buf, 0, 0)
	_, err := w.Write(buf)
	return err
}

func readTestPacket(r io.Reader) (id, typ int32, body string, err error) {
	var sizeBuf [4]byte
	if _, err = io.ReadFull(r, sizeBuf[:]); err != nil {
		return 0, 0, "", err
	}
	size := int32(binary.LittleEndian.Uint32(sizeBuf[:]))
	if size < 10 || size > 1<<20 {
		return 0, 0, "", io.ErrUnexpectedEOF
	}
	payload := make([]byte, size)
	if _, err = io.ReadFull(r, payload); err != nil {
		return 0, 0, "", err
	}
	id = int32(binary.LittleEndian.Uint32(payload[0:4]))
	typ = int32(binary.LittleEndian.Uint32(payload[4:8]))
	body = string(payload[8 : size-2])
	return id, typ, body, nil
}
