// Command carverad is the mock CNC machine server: a TCP service that
// emulates the wire-level command protocol of a Carvera-family CNC
// controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/carvera-sim/carverad/internal/config"
	"github.com/carvera-sim/carverad/internal/server"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	host := flag.String("host", "", "listen host (overrides config file)")
	port := flag.Int("port", 0, "listen port (overrides config file)")
	verbose := flag.Bool("verbose", false, "show debug-level log events")
	configPath := flag.String("config", "", "path to config.toml (overrides default location)")
	flag.Parse()

	if *showVersion {
		fmt.Println("carverad", Version)
		os.Exit(0)
	}

	var level slog.LevelVar
	if *verbose {
		level.Set(slog.LevelDebug)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	cfg, err := configFor(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	cfg.Verbose = cfg.Verbose || *verbose
	if cfg.Verbose {
		level.Set(slog.LevelDebug)
	}

	logger.Info("starting", "host", cfg.Host, "port", cfg.Port)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("ready", "addr", srv.Addr())
	if err := srv.Serve(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func configFor(override string) (*config.Config, error) {
	if override == "" {
		return config.Load()
	}
	return config.LoadFrom(override)
}
