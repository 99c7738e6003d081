package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberinferno/linechat/chat"
	"github.com/cyberinferno/linechat/config"
	"github.com/cyberinferno/linechat/logger"
	"github.com/cyberinferno/linechat/presence"
	"github.com/cyberinferno/linechat/tcpserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Options{
		Service: "linechat",
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Dir:     cfg.LogDir,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub, err := newPresence(ctx, cfg, log)
	if err != nil {
		return err
	}

	opts := chat.DefaultOptions(cfg.Addr())
	opts.Session = tcpserver.SessionOptions{
		MaxLineBytes: cfg.MaxLineBytes,
		QueueSize:    cfg.SendQueueSize,
		WriteTimeout: cfg.WriteTimeout,
	}
	opts.IdleTimeout = cfg.IdleTimeout
	opts.IdleSweepInterval = cfg.IdleSweepInterval

	server := chat.NewServer(opts, log, pub)

	if err := server.Run(ctx, cfg.ShutdownTimeout); err != nil {
		return err
	}

	log.Info("server stopped cleanly")
	return nil
}

func newPresence(ctx context.Context, cfg config.Config, log logger.Logger) (presence.Publisher, error) {
	if cfg.PresenceRedisAddr == "" {
		return presence.Nop{}, nil
	}

	pub, err := presence.Dial(ctx, cfg.PresenceRedisAddr, cfg.PresenceRedisKey)
	if err != nil {
		return nil, fmt.Errorf("presence: %w", err)
	}

	log.Info("presence mirror enabled",
		logger.Field{Key: "redis", Value: cfg.PresenceRedisAddr},
		logger.Field{Key: "key", Value: pub.Key()},
	)

	return pub, nil
}
