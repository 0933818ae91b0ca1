package chat

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry tracks every live session: pending ones by connection id and
// registered ones by username. It is the fan-out point for chat lines and
// server notices. All methods are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	registered map[string]*Session
	pending    map[uint64]*Session
	closed     bool
	logger     *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		registered: make(map[string]*Session),
		pending:    make(map[uint64]*Session),
		logger:     logger,
	}
}

// AddPending records a freshly accepted session. It fails once Shutdown
// has started so late connections are not left behind.
func (r *Registry) AddPending(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	r.pending[s.id] = s
	r.updateGauges()
	return nil
}

// RemovePending drops the pending entry for id, reporting whether one existed.
func (r *Registry) RemovePending(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; !ok {
		return false
	}
	delete(r.pending, id)
	r.updateGauges()
	return true
}

// TryRegister claims name for s if nobody holds it. On success s leaves the
// pending set in the same step, so it is never visible in both.
func (r *Registry) TryRegister(name string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if _, taken := r.registered[name]; taken {
		return ErrUsernameTaken
	}
	if err := s.markRegistered(name); err != nil {
		return err
	}
	delete(r.pending, s.id)
	r.registered[name] = s
	r.updateGauges()

	r.logger.Info("user registered", "username", name, "session", s.id)
	return nil
}

func (r *Registry) Lookup(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.registered[name]
	return s, ok
}

// Remove forgets name regardless of which session holds it.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.registered[name]; ok {
		delete(r.registered, name)
		r.updateGauges()
	}
}

// release removes s from both structures. A username that has since been
// claimed by another session is left alone.
func (r *Registry) release(s *Session) (wasRegistered bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, s.id)
	if name := s.Username(); name != "" && r.registered[name] == s {
		delete(r.registered, name)
		wasRegistered = true
	}
	r.updateGauges()
	return wasRegistered
}

// Disconnect removes the session registered as name and closes it.
// Unknown names are ignored; when several callers race on one name only
// the first reports true.
func (r *Registry) Disconnect(name string) bool {
	r.mu.Lock()
	s, ok := r.registered[name]
	if ok {
		delete(r.registered, name)
		r.updateGauges()
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	s.Close()
	r.logger.Info("user disconnected", "username", name, "session", s.id)
	return true
}

// Broadcast relays text from a user to every registered session, sender included.
func (r *Registry) Broadcast(from, text string) {
	r.logger.Info("message", "from", from, "text", text)
	r.fanout("broadcast", FormatChat(from, text), "")
}

// Notify sends a server notice to every registered session except the
// one named except. An empty except reaches everybody.
func (r *Registry) Notify(text, except string) {
	r.logger.Info("notice", "text", text, "except", except)
	r.fanout("notify", FormatChat(ServerName, text), except)
}

func (r *Registry) fanout(kind, line, except string) {
	start := time.Now()
	for _, s := range r.snapshot(except) {
		s.deliverLine(line)
	}
	MessagesTotal.WithLabelValues(kind).Inc()
	FanoutDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// snapshot copies the recipients so no lock is held while writing to sockets.
func (r *Registry) snapshot(except string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.registered))
	for name, s := range r.registered {
		if except != "" && name == except {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Users returns the registered usernames in sorted order.
func (r *Registry) Users() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.registered))
	for name := range r.registered {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.registered)
}

func (r *Registry) PendingLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}

// Shutdown refuses new sessions and closes every existing one, pending
// sessions first. It is safe to call more than once.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pending := make([]*Session, 0, len(r.pending))
	for _, s := range r.pending {
		pending = append(pending, s)
	}
	registered := make([]*Session, 0, len(r.registered))
	for _, s := range r.registered {
		registered = append(registered, s)
	}
	r.mu.Unlock()

	r.logger.Info("closing sessions", "pending", len(pending), "registered", len(registered))
	closeAll(pending)
	closeAll(registered)
}

// closeAll closes sessions concurrently so one slow peer does not delay the rest.
func closeAll(sessions []*Session) {
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
		}(s)
	}
	wg.Wait()
}

// updateGauges must be called with r.mu held.
func (r *Registry) updateGauges() {
	RegisteredSessions.Set(float64(len(r.registered)))
	PendingSessions.Set(float64(len(r.pending)))
}
