package chat

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// goodbyeTimeout caps the final line even when writes are otherwise unbounded.
	goodbyeTimeout = time.Second
	// closeGrace is how long finish waits for a write already in progress.
	closeGrace = 200 * time.Millisecond
)

// lineWriter serializes whole lines onto a connection. Writers from any
// goroutine may call writeLines; each batch is flushed before the next starts.
// Once sealed, no further line reaches the connection.
type lineWriter struct {
	mu      sync.Mutex
	conn    net.Conn
	w       *bufio.Writer
	timeout time.Duration
	sealed  atomic.Bool
}

func newLineWriter(conn net.Conn, timeout time.Duration) *lineWriter {
	return &lineWriter{
		conn:    conn,
		w:       bufio.NewWriter(conn),
		timeout: timeout,
	}
}

// writeLines writes lines back to back so no other writer interleaves.
func (lw *lineWriter) writeLines(lines ...string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.sealed.Load() {
		return ErrSessionClosed
	}
	return lw.flushLines(lines, lw.timeout)
}

// finish seals the writer and closes the connection, sending final first
// when it is not empty. A write still in progress after closeGrace has its
// connection closed under it, so a stalled peer cannot hold finish up.
func (lw *lineWriter) finish(final string) error {
	if lw.sealed.Swap(true) {
		return nil
	}
	if !lw.mu.TryLock() {
		abort := time.AfterFunc(closeGrace, func() { _ = lw.conn.Close() })
		lw.mu.Lock()
		if !abort.Stop() {
			lw.mu.Unlock()
			return nil
		}
	}
	defer lw.mu.Unlock()

	if final != "" {
		timeout := goodbyeTimeout
		if lw.timeout > 0 && lw.timeout < timeout {
			timeout = lw.timeout
		}
		_ = lw.flushLines([]string{final}, timeout)
	}
	return lw.conn.Close()
}

func (lw *lineWriter) flushLines(lines []string, timeout time.Duration) error {
	if timeout > 0 {
		if err := lw.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	for _, line := range lines {
		if _, err := lw.w.WriteString(line + "\n"); err != nil {
			lw.w.Reset(lw.conn)
			return fmt.Errorf("write: %w", err)
		}
	}
	if err := lw.w.Flush(); err != nil {
		lw.w.Reset(lw.conn)
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}
