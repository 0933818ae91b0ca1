package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andy6609/line-chat/internal/chat"
)

func main() {
	cfg := chat.DefaultConfig()

	host := flag.String("host", "", "chat listen host")
	metricsAddr := flag.String("metrics-addr", ":9090", "metrics listen address (empty disables)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "per-line write deadline (0 disables)")
	flag.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "disconnect clients idle for this long (0 disables)")
	flag.Float64Var(&cfg.MessageRate, "rate", cfg.MessageRate, "chat lines per second allowed per user (0 disables)")
	flag.IntVar(&cfg.MessageBurst, "burst", 5, "burst size for -rate")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Uso: %s [opciones] [<puerto>]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	port := chat.DefaultPort
	if flag.NArg() > 0 {
		p, err := strconv.Atoi(flag.Arg(0))
		if err != nil || p < 0 || p > 65535 {
			flag.Usage()
			os.Exit(1)
		}
		port = p
	}
	cfg.Addr = net.JoinHostPort(*host, strconv.Itoa(port))

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q\n", *logLevel)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	srv := chat.NewServer(cfg, logger)
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Servidor levantado en %s\n", srv.Addr())
	fmt.Printf("  %s para terminar la ejecución.\n", chat.CmdExit)
	fmt.Printf("  %s para mostrar la tabla de usuarios.\n", chat.CmdList)

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, logger)
	}

	go srv.Console(os.Stdin, os.Stdout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		srv.Stop()
	case <-srv.Stopped():
	}

	if err := srv.Wait(); err != nil {
		logger.Error("accept loop ended", "error", err)
		os.Exit(1)
	}
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	hs := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("metrics endpoint", "addr", addr)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}
