package chat

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"
)

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = time.Second
	}
	srv := NewServer(cfg, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv
}

func dial(t *testing.T, srv *Server) *peer {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return newPeer(conn)
}

// join connects and registers name, consuming lines up to the welcome.
func join(t *testing.T, srv *Server, name string) *peer {
	t.Helper()
	p := dial(t, srv)
	waitFor(t, p.lines, msgAskUsername)
	p.send(t, name)
	waitFor(t, p.lines, FormatRegistered(name))
	waitFor(t, p.lines, msgWelcome(name))
	return p
}

func TestSession_SendsCommandTableBeforePrompt(t *testing.T) {
	srv := startServer(t, Config{})
	p := dial(t, srv)

	for _, c := range Commands {
		if got := nextLine(t, p.lines); got != FormatCommand(c) {
			t.Fatalf("got %q, want %q", got, FormatCommand(c))
		}
	}
	if got := nextLine(t, p.lines); got != msgAskUsername {
		t.Fatalf("got %q, want prompt", got)
	}
	eventually(t, "pending session", func() bool { return srv.Registry().PendingLen() == 1 })
}

func TestSession_ChatScenario(t *testing.T) {
	srv := startServer(t, Config{})
	reg := srv.Registry()

	ana := join(t, srv, "ana")

	beto := dial(t, srv)
	waitFor(t, beto.lines, msgAskUsername)
	beto.send(t, "ana")
	waitFor(t, beto.lines, msgUsernameTaken("ana"))
	beto.send(t, "beto")
	waitFor(t, beto.lines, FormatRegistered("beto"))

	waitFor(t, ana.lines, FormatChat(ServerName, msgJoined("beto")))

	ana.send(t, "hola")
	waitFor(t, beto.lines, "[[ana]]: hola")
	waitFor(t, ana.lines, "[[ana]]: hola")

	beto.send(t, CmdExit)
	waitFor(t, beto.lines, Goodbye)
	waitClosed(t, beto.lines)

	waitFor(t, ana.lines, "[[Servidor]]: beto se ha desconectado.")
	eventually(t, "beto removed", func() bool {
		_, ok := reg.Lookup("beto")
		return !ok
	})
	if _, ok := reg.Lookup("ana"); !ok {
		t.Fatal("ana should still be registered")
	}
}

func TestSession_RejectsEmptyAndCommandNames(t *testing.T) {
	srv := startServer(t, Config{})
	p := dial(t, srv)
	waitFor(t, p.lines, msgAskUsername)

	p.send(t, "   ")
	waitFor(t, p.lines, msgEmptyUsername)
	waitFor(t, p.lines, msgAskUsername)

	p.send(t, CmdList)
	waitFor(t, p.lines, msgCommandName)
	waitFor(t, p.lines, msgAskUsername)

	p.send(t, "  luz  ")
	waitFor(t, p.lines, FormatRegistered("luz"))
	if _, ok := srv.Registry().Lookup("luz"); !ok {
		t.Fatal("luz not registered")
	}
}

func TestSession_AnonymousExit(t *testing.T) {
	srv := startServer(t, Config{})
	reg := srv.Registry()
	p := dial(t, srv)
	waitFor(t, p.lines, msgAskUsername)

	p.send(t, CmdExit)
	waitFor(t, p.lines, Goodbye)
	waitClosed(t, p.lines)

	eventually(t, "pending cleared", func() bool { return reg.PendingLen() == 0 })
	if reg.Len() != 0 {
		t.Fatalf("registered = %v", reg.Users())
	}
}

func TestSession_DisconnectBeforeUsername(t *testing.T) {
	srv := startServer(t, Config{})
	p := dial(t, srv)
	waitFor(t, p.lines, msgAskUsername)
	_ = p.conn.Close()

	eventually(t, "pending cleared", func() bool { return srv.Registry().PendingLen() == 0 })
}

func TestSession_ListCommand(t *testing.T) {
	srv := startServer(t, Config{})
	ana := join(t, srv, "ana")

	ana.send(t, CmdList)
	waitFor(t, ana.lines, msgListStart)
	if got := nextLine(t, ana.lines); got != msgListEnd {
		t.Fatalf("expected empty list, got %q", got)
	}

	_ = join(t, srv, "beto")
	_ = join(t, srv, "carla")
	waitFor(t, ana.lines, FormatChat(ServerName, msgJoined("carla")))

	ana.send(t, CmdList)
	waitFor(t, ana.lines, msgListStart)
	var names []string
	for {
		line := nextLine(t, ana.lines)
		if line == msgListEnd {
			break
		}
		names = append(names, line)
	}
	if strings.Join(names, ",") != "beto,carla" {
		t.Fatalf("list = %v", names)
	}
}

func TestSession_PeerDropNotifiesOthers(t *testing.T) {
	srv := startServer(t, Config{})
	ana := join(t, srv, "ana")
	beto := join(t, srv, "beto")

	_ = beto.conn.Close()

	waitFor(t, ana.lines, "[[Servidor]]: beto se ha desconectado.")
	eventually(t, "beto removed", func() bool {
		_, ok := srv.Registry().Lookup("beto")
		return !ok
	})
}

func TestSession_RateLimitDropsFlood(t *testing.T) {
	srv := startServer(t, Config{MessageRate: 0.001, MessageBurst: 1})
	ana := join(t, srv, "ana")

	ana.send(t, "uno")
	waitFor(t, ana.lines, "[[ana]]: uno")
	ana.send(t, "dos")
	if got := nextLine(t, ana.lines); got != msgRateLimited {
		t.Fatalf("got %q, want rate limit notice", got)
	}
}

func TestSession_IdleTimeoutEndsSession(t *testing.T) {
	srv := startServer(t, Config{IdleTimeout: 300 * time.Millisecond})
	ana := join(t, srv, "ana")

	waitFor(t, ana.lines, Goodbye)
	waitClosed(t, ana.lines)
	eventually(t, "ana removed", func() bool { return srv.Registry().Len() == 0 })
}

func TestServer_ShutdownClosesSessions(t *testing.T) {
	srv := startServer(t, Config{})
	ana := join(t, srv, "ana")
	beto := join(t, srv, "beto")
	waiting := dial(t, srv)
	waitFor(t, waiting.lines, msgAskUsername)

	srv.Stop()

	for _, p := range []*peer{waiting, ana, beto} {
		waitFor(t, p.lines, Goodbye)
		waitClosed(t, p.lines)
	}
	if err := srv.Wait(); err != nil {
		t.Fatalf("accept loop error: %v", err)
	}
	if n := srv.Registry().Len() + srv.Registry().PendingLen(); n != 0 {
		t.Fatalf("%d sessions left after shutdown", n)
	}
	if _, err := net.DialTimeout("tcp", srv.Addr().String(), 200*time.Millisecond); err == nil {
		t.Fatal("listener still accepting")
	}
}

func TestServer_Console(t *testing.T) {
	srv := startServer(t, Config{})

	var out bytes.Buffer
	srv.Console(strings.NewReader("/LISTA\nfoo\n"), &out)
	if !strings.Contains(out.String(), "No hay usuarios registrados.") {
		t.Fatalf("console output: %q", out.String())
	}

	_ = join(t, srv, "ana")
	out.Reset()
	srv.Console(strings.NewReader("/lista\n/salir\n/lista\n"), &out)

	got := out.String()
	if !strings.Contains(got, "Echo: /lista\nana\n") {
		t.Fatalf("console output: %q", got)
	}
	if strings.Count(got, "Echo: /lista") != 1 {
		t.Fatalf("console kept reading after /salir: %q", got)
	}
	select {
	case <-srv.Stopped():
	default:
		t.Fatal("server not stopped by /salir")
	}
	if err := srv.Wait(); err != nil {
		t.Fatalf("accept loop error: %v", err)
	}
}
