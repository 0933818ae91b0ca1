package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/andy6609/line-chat/internal/client"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Uso: %s <host> <puerto>\n", os.Args[0])
		os.Exit(1)
	}
	host := os.Args[1]
	port, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Uso: %s <host> <puerto>\n", os.Args[0])
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		logger.Error("cannot connect", "addr", addr, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Println("*...                                  Chat                                  ...*")

	c := client.New(conn, os.Stdin, os.Stdout)
	if err := c.Run(); err != nil {
		logger.Error("connection ended", "error", err)
		conn.Close()
		os.Exit(1)
	}
}
