package chat

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Session drives one client connection: the username handshake, then the
// read/relay loop, then teardown. Close may be called from any goroutine.
type Session struct {
	id      uint64
	conn    net.Conn
	reg     *Registry
	cfg     Config
	logger  *slog.Logger
	reader  *bufio.Reader
	out     *lineWriter
	limiter *rate.Limiter

	mu       sync.Mutex
	state    State
	username string
}

func NewSession(id uint64, conn net.Conn, reg *Registry, cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		id:     id,
		conn:   conn,
		reg:    reg,
		cfg:    cfg,
		logger: logger.With("session", id),
		reader: bufio.NewReader(conn),
		out:    newLineWriter(conn, cfg.WriteTimeout),
	}
	if cfg.MessageRate > 0 {
		burst := cfg.MessageBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.MessageRate), burst)
	}
	return s
}

func (s *Session) ID() uint64 { return s.id }

// Username is empty until registration completes and never changes afterwards.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) isClosed() bool {
	return s.State() == StateClosed
}

func (s *Session) markRegistered(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePending {
		return ErrSessionClosed
	}
	s.state = StateRegistered
	s.username = name
	return nil
}

// Serve runs the session to completion. Cleanup happens on every exit path.
func (s *Session) Serve() {
	defer s.cleanup()

	if !s.registerUser() {
		return
	}
	s.run()
}

func (s *Session) registerUser() bool {
	commands := make([]string, 0, len(Commands))
	for _, c := range Commands {
		commands = append(commands, FormatCommand(c))
	}
	if err := s.send(commands...); err != nil {
		s.logIOError("send commands", err)
		return false
	}

	prompt := msgAskUsername
	for {
		if err := s.send(prompt); err != nil {
			s.logIOError("send prompt", err)
			return false
		}
		prompt = msgAskUsername

		line, err := s.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("client did not send a username")
			} else {
				s.logIOError("read username", err)
			}
			return false
		}
		name := strings.TrimSpace(line)

		if name == CmdExit {
			s.logger.Info("anonymous client came and went")
			MessagesTotal.WithLabelValues("exit").Inc()
			s.Close()
			return false
		}

		switch err := validateUsername(name); err {
		case nil:
		case ErrUsernameEmpty:
			if err := s.send(msgEmptyUsername); err != nil {
				s.logIOError("send", err)
				return false
			}
			continue
		default:
			if err := s.send(msgCommandName); err != nil {
				s.logIOError("send", err)
				return false
			}
			continue
		}

		switch err := s.reg.TryRegister(name, s); {
		case err == nil:
		case errors.Is(err, ErrUsernameTaken):
			prompt = msgUsernameTaken(name)
			continue
		default:
			s.logger.Info("registration aborted", "username", name, "error", err)
			return false
		}

		if err := s.send(FormatRegistered(name), msgWelcome(name)); err != nil {
			s.logIOError("send confirmation", err)
		}
		s.reg.Notify(msgJoined(name), name)
		return true
	}
}

func (s *Session) run() {
	name := s.Username()
	for !s.isClosed() {
		line, err := s.readLine()
		if err != nil {
			s.logIOError("read", err)
			return
		}

		switch line {
		case CmdExit:
			MessagesTotal.WithLabelValues("exit").Inc()
			s.reg.Disconnect(name)
			continue
		case CmdList:
			MessagesTotal.WithLabelValues("list").Inc()
			s.sendList(name)
			continue
		}

		if s.limiter != nil && !s.limiter.Allow() {
			MessagesTotal.WithLabelValues("rate_limited").Inc()
			if err := s.send(msgRateLimited); err != nil {
				s.logIOError("send", err)
			}
			continue
		}
		s.reg.Broadcast(name, line)
	}
}

// sendList lists the other users between start and end markers. The
// requester is left out, so a lone user gets an empty list.
func (s *Session) sendList(self string) {
	lines := []string{msgListStart}
	for _, u := range s.reg.Users() {
		if u != self {
			lines = append(lines, u)
		}
	}
	lines = append(lines, msgListEnd)
	if err := s.send(lines...); err != nil {
		s.logIOError("send list", err)
	}
}

func (s *Session) cleanup() {
	s.reg.release(s)
	if name := s.Username(); name != "" {
		s.logger.Info("user left", "username", name)
		s.reg.Notify(msgLeft(name), name)
	}
	s.Close()
}

// Deliver writes a chat line attributed to from.
func (s *Session) Deliver(from, text string) {
	s.deliverLine(FormatChat(from, text))
}

// deliverLine is best effort. A recipient that cannot take the line within
// the write timeout is dropped without a goodbye.
func (s *Session) deliverLine(line string) {
	if s.isClosed() {
		return
	}
	err := s.out.writeLines(line)
	if err == nil || s.isClosed() || errors.Is(err, ErrSessionClosed) {
		return
	}
	DeliveryFailures.Inc()
	s.logger.Warn("delivery failed", "username", s.Username(), "error", err)
	if isTimeout(err) {
		s.close(false)
	}
}

// Close sends the goodbye line and closes the connection. Only the first
// call has any effect.
func (s *Session) Close() {
	s.close(true)
}

func (s *Session) close(goodbye bool) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	final := ""
	if goodbye {
		final = Goodbye
	}
	if err := s.out.finish(final); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("close connection", "error", err)
	}
}

func (s *Session) send(lines ...string) error {
	return s.out.writeLines(lines...)
}

func (s *Session) readLine() (string, error) {
	if s.cfg.IdleTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return "", fmt.Errorf("set read deadline: %w", err)
		}
	}
	return readLine(s.reader)
}

// logIOError classifies err. Failures caused by our own Close are expected
// and stay quiet.
func (s *Session) logIOError(op string, err error) {
	switch {
	case s.isClosed(), errors.Is(err, ErrSessionClosed), errors.Is(err, net.ErrClosed):
	case errors.Is(err, io.EOF):
		s.logger.Info("peer closed connection", "username", s.Username())
	case isTimeout(err):
		s.logger.Info("idle timeout", "op", op, "username", s.Username())
	default:
		s.logger.Error("unexpected i/o error", "op", op, "username", s.Username(), "error", err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err == nil {
		return strings.TrimRight(line, "\r\n"), nil
	}
	if err == io.EOF && line != "" {
		// last line without newline
		return strings.TrimRight(line, "\r\n"), nil
	}
	if err == io.EOF {
		return "", io.EOF
	}
	return "", fmt.Errorf("read: %w", err)
}
