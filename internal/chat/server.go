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
	"sync/atomic"
)

type Server struct {
	cfg      Config
	logger   *slog.Logger
	reg      *Registry
	listener net.Listener

	nextID   atomic.Uint64
	stopping atomic.Bool
	stopOnce sync.Once
	sessions sync.WaitGroup
	done     chan struct{}
	stopped  chan struct{}

	acceptErr error
}

func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		reg:     NewRegistry(logger),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (s *Server) Registry() *Registry { return s.reg }

// Addr is the bound address; only valid after Start.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	go s.acceptLoop(ln)

	s.logger.Info("server started", "addr", ln.Addr().String())
	return nil
}

// Stop closes every session, pending ones first, then the listener, and
// waits for the accept loop and all session goroutines to finish.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("shutting down")
		s.stopping.Store(true)

		s.reg.Shutdown()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("close listener", "error", err)
			}
			<-s.done
		}
		s.sessions.Wait()

		s.logger.Info("shutdown complete")
		close(s.stopped)
	})
}

// Stopped is closed once Stop has finished.
func (s *Server) Stopped() <-chan struct{} {
	return s.stopped
}

// Wait blocks until the accept loop exits. The result is nil when it ended
// because of Stop.
func (s *Server) Wait() error {
	<-s.done
	return s.acceptErr
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer close(s.done)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "error", err)
			s.acceptErr = fmt.Errorf("accept: %w", err)
			return
		}

		id := s.nextID.Add(1)
		s.logger.Info("client connected", "addr", conn.RemoteAddr().String(), "session", id)

		sess := NewSession(id, conn, s.reg, s.cfg, s.logger)
		if err := s.reg.AddPending(sess); err != nil {
			sess.Close()
			continue
		}
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			sess.Serve()
		}()
	}
}

// Console reads administrative commands from in until /salir or EOF.
// /lista prints registered usernames to out; /salir stops the server.
func (s *Server) Console(in io.Reader, out io.Writer) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		key := strings.ToLower(strings.TrimSpace(sc.Text()))
		fmt.Fprintf(out, "Echo: %s\n", key)

		switch key {
		case CmdList:
			users := s.reg.Users()
			if len(users) == 0 {
				fmt.Fprintln(out, "No hay usuarios registrados.")
				continue
			}
			for _, u := range users {
				fmt.Fprintln(out, u)
			}
		case CmdExit:
			fmt.Fprintln(out, "Cerrando servidor...")
			s.Stop()
			return
		}
	}
	if err := sc.Err(); err != nil {
		s.logger.Warn("console read failed", "error", err)
	}
}
