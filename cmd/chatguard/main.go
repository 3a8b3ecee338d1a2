package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/teilomillet/chatguard/config"
	"github.com/teilomillet/chatguard/errors"
	"github.com/teilomillet/chatguard/server"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("chatguard", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configFile := flags.String("config", "chatguard.yaml", "Path to configuration file")
	validate := flags.Bool("validate", false, "Validate configuration and exit")
	version := flags.Bool("version", false, "Print version and exit")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if *version {
		fmt.Fprintf(stdout, "chatguard %s\n", server.Version)
		return 0
	}

	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}

	if *validate {
		fmt.Fprintln(stdout, "Configuration is valid")
		return 0
	}

	logger, level, err := server.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer func() {
		// Sync fails on stdout/stderr for some platforms; nothing to do about it.
		_ = logger.Sync()
	}()
	errors.SetLogger(logger)

	srv, err := server.NewServer(*configFile, logger, server.WithLogLevel(level))
	if err != nil {
		logger.Error("Server initialization failed",
			zap.Error(err),
			zap.String("config_path", *configFile),
		)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting chatguard",
		zap.String("version", server.Version),
		zap.Int("port", cfg.Server.Port),
	)
	if err := srv.Start(ctx); err != nil {
		logger.Error("Server error", zap.Error(err))
		return 1
	}
	logger.Info("Server stopped")
	return 0
}
