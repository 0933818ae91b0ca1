// Package client is the terminal side of the chat: it forwards keyboard
// lines to the server and renders what comes back.
package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"

	"github.com/andy6609/line-chat/internal/chat"
)

// ErrConnectionLost is returned when the server goes away without saying goodbye.
var ErrConnectionLost = errors.New("connection lost")

type Client struct {
	conn  net.Conn
	keys  io.Reader
	out   io.Writer
	alive atomic.Bool

	username string
}

func New(conn net.Conn, keys io.Reader, out io.Writer) *Client {
	c := &Client{conn: conn, keys: keys, out: out}
	c.alive.Store(true)
	return c
}

// Run blocks until the server sends the goodbye line or the connection drops.
func (c *Client) Run() error {
	go c.forwardKeys()
	defer c.alive.Store(false)

	r := bufio.NewReader(c.conn)

	for {
		line, err := readLine(r)
		if err != nil {
			return err
		}
		if line == chat.Goodbye {
			c.bye()
			return nil
		}
		if name, ok := chat.ParseRegistered(line); ok {
			c.username = name
			fmt.Fprintf(c.out, "Tu nombre de usuario %s ha sido confirmado.\n", name)
			break
		}
		fmt.Fprintln(c.out, line)
	}

	for {
		line, err := readLine(r)
		if err != nil {
			return err
		}
		if line == chat.Goodbye {
			c.bye()
			return nil
		}
		fmt.Fprintln(c.out, Render(c.username, line))
	}
}

func (c *Client) bye() {
	c.alive.Store(false)
	fmt.Fprintln(c.out, "Conexión terminada, presiona cualquier tecla.")
}

func (c *Client) forwardKeys() {
	sc := bufio.NewScanner(c.keys)
	for sc.Scan() {
		// the connection may already be gone without the scanner noticing
		if !c.alive.Load() {
			return
		}
		if _, err := fmt.Fprintln(c.conn, sc.Text()); err != nil {
			return
		}
	}
}

// Render formats a server line for the terminal. Own messages read "Yo: ...".
func Render(self, line string) string {
	from, text, ok := chat.ParseChat(line)
	if !ok {
		return line
	}
	if from == self {
		return "Yo: " + text
	}
	return from + ": " + text
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if line != "" && errors.Is(err, io.EOF) {
			return strings.TrimRight(line, "\r\n"), nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return "", ErrConnectionLost
		}
		return "", fmt.Errorf("read: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
