package chat

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

const waitTimeout = 2 * time.Second

// peer is the far end of a session connection, with every received line
// pushed onto lines. lines is closed when the connection ends.
type peer struct {
	conn  net.Conn
	lines chan string
}

func newPeer(conn net.Conn) *peer {
	p := &peer{conn: conn, lines: make(chan string, 256)}
	go func() {
		defer close(p.lines)
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			p.lines <- sc.Text()
		}
	}()
	return p
}

func (p *peer) send(t *testing.T, line string) {
	t.Helper()
	if _, err := fmt.Fprintf(p.conn, "%s\n", line); err != nil {
		t.Fatalf("send %q: %v", line, err)
	}
}

// pipeSession builds a pending session over net.Pipe without starting it.
func pipeSession(t *testing.T, r *Registry, id uint64) (*Session, *peer) {
	t.Helper()
	return pipeSessionWith(t, r, id, Config{WriteTimeout: time.Second})
}

func pipeSessionWith(t *testing.T, r *Registry, id uint64, cfg Config) (*Session, *peer) {
	t.Helper()
	s, client := stalledSession(t, r, id, cfg)
	return s, newPeer(client)
}

// stalledSession returns a session whose peer end is never read unless the
// caller does so, making every write to it block.
func stalledSession(t *testing.T, r *Registry, id uint64, cfg Config) (*Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	s := NewSession(id, server, r, cfg, nil)
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return s, client
}

func mustRegister(t *testing.T, r *Registry, s *Session, name string) {
	t.Helper()
	if err := r.TryRegister(name, s); err != nil {
		t.Fatalf("TryRegister(%s) error: %v", name, err)
	}
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.NewTimer(waitTimeout)
	defer deadline.Stop()
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				t.Fatalf("connection closed while waiting for %q", want)
			}
			if s == want {
				return
			}
		case <-deadline.C:
			t.Fatalf("timeout waiting for %q", want)
		}
	}
}

func waitForPrefix(t *testing.T, ch <-chan string, prefix string) string {
	t.Helper()
	deadline := time.NewTimer(waitTimeout)
	defer deadline.Stop()
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				t.Fatalf("connection closed while waiting for prefix %q", prefix)
			}
			if strings.HasPrefix(s, prefix) {
				return s
			}
		case <-deadline.C:
			t.Fatalf("timeout waiting for prefix %q", prefix)
		}
	}
}

func nextLine(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			t.Fatal("connection closed while waiting for a line")
		}
		return s
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for a line")
	}
	return ""
}

// waitClosed drains ch and fails unless it closes in time.
func waitClosed(t *testing.T, ch <-chan string) {
	t.Helper()
	deadline := time.NewTimer(waitTimeout)
	defer deadline.Stop()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline.C:
			t.Fatal("timeout waiting for connection to close")
		}
	}
}

func expectSilence(t *testing.T, ch <-chan string, d time.Duration) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if ok {
			t.Fatalf("unexpected line %q", s)
		}
	case <-time.After(d):
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
