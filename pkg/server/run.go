package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Run starts both listeners, the metrics endpoint, and the background
// sweep scheduler, then blocks until SIGINT/SIGTERM.
func (s *Server) Run() error {
	ctx := context.Background()

	if s.cfg.SeedTestUsers {
		if err := s.auth.SeedDefaultUsers(ctx); err != nil {
			return fmt.Errorf("server: seed users: %w", err)
		}
	}

	if _, err := s.channels.EnsureDefaultChannel(ctx); err != nil {
		return fmt.Errorf("server: ensure default channel: %w", err)
	}

	if s.cfg.ChannelsFile != "" {
		if err := LoadChannelsFromYAML(ctx, s.cfg.ChannelsFile, s.channels); err != nil {
			slog.Error("failed to load channels config", "err", err)
		}
	}

	if err := s.auth.EnsureAdminToken(ctx); err != nil {
		return fmt.Errorf("server: ensure admin token: %w", err)
	}

	if err := s.StartControl(); err != nil {
		return err
	}
	if err := s.StartVoice(); err != nil {
		return err
	}
	s.StartMetricsHTTP(s.registry)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("server: create scheduler: %w", err)
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(10*time.Minute),
		gocron.NewTask(func() {
			deleted, err := s.auth.SweepExpiredTokens(ctx)
			if err != nil {
				slog.Error("token sweep failed", "err", err)
				return
			}
			if deleted > 0 {
				slog.Debug("swept expired tokens", "count", deleted)
			}
		}),
	); err != nil {
		return fmt.Errorf("server: schedule token sweep: %w", err)
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(func() {
			slog.Info("status", "connections", s.sessions.Count())
		}),
	); err != nil {
		return fmt.Errorf("server: schedule status log: %w", err)
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			slog.Error("scheduler shutdown failed", "err", err)
		}
	}()

	slog.Info("whispr relay running", "control", s.cfg.ControlAddr, "audio", s.cfg.AudioAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	s.Shutdown()
	return nil
}
