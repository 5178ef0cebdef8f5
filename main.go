package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pathakanu/pushminder/internal/config"
	"github.com/pathakanu/pushminder/internal/database"
	"github.com/pathakanu/pushminder/internal/ledger"
	"github.com/pathakanu/pushminder/internal/push"
	"github.com/pathakanu/pushminder/internal/registry"
	"github.com/pathakanu/pushminder/internal/reminder"
	"github.com/pathakanu/pushminder/internal/schedule"
	"github.com/pathakanu/pushminder/internal/server"
	"github.com/pathakanu/pushminder/internal/vapid"
	"github.com/spf13/pflag"
)

func main() {
	once := pflag.Bool("once", false, "run a single reminder pass and exit (for an external cron)")
	generateKeys := pflag.Bool("generate-vapid-keys", false, "print a new VAPID key pair and exit")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("service", "pushminder")

	if *generateKeys {
		if err := printKeys(); err != nil {
			logger.Error("generate vapid keys", "error", err)
			os.Exit(1)
		}
		return
	}

	cfg := config.Load(logger)

	db, err := database.New(cfg.DatabaseURL, cfg.SQLitePath, logger)
	if err != nil {
		logger.Error("database init failed", "error", err)
		os.Exit(1)
	}

	signer := vapid.New(vapid.Credentials{
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		Subject:    cfg.VAPIDSubject,
	})
	if !signer.Configured() {
		logger.Warn("web push disabled, every delivery will fail until VAPID is configured", "error", signer.Err())
	}

	subs := registry.New(db)
	schedules := schedule.New(db)
	dispatches := ledger.New(db, cfg.LocalTimezone)
	sender := push.NewSender(subs, signer, push.NewHTTPTransport(cfg.PushTimeout), cfg.PushTTL, logger)
	resolver := reminder.NewResolver(schedules, dispatches, sender, cfg.LocalTimezone, logger)
	scheduler := reminder.NewScheduler(resolver, cfg.ReminderCron, cfg.LocalTimezone, cfg.ReminderBatchTimeout, logger)

	if *once {
		if err := runOnce(resolver, cfg.ReminderBatchTimeout, os.Stdout); err != nil {
			logger.Error("reminder pass failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if cfg.ReminderCron != "" {
		if err := scheduler.Start(); err != nil {
			logger.Error("scheduler start", "error", err)
			os.Exit(1)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(server.Dependencies{
		Subscriptions: subs,
		Schedules:     schedules,
		Ledger:        dispatches,
		Sender:        sender,
		Resolver:      resolver,
		PublicKey:     signer.PublicKey(),
		CronToken:     cfg.CronToken,
		BatchTimeout:  cfg.ReminderBatchTimeout,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", httpServer.Addr, "timezone", cfg.LocalTimezone.String())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	waitForShutdown(httpServer, scheduler, cfg.ReminderCron != "", logger)
}

// runOnce performs a single unrestricted pass and prints its summary to out.
func runOnce(resolver *reminder.Resolver, timeout time.Duration, out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := resolver.ResolveDue(ctx, time.Now(), nil)
	fmt.Fprintln(out, result.Summary())
	return err
}

func waitForShutdown(httpServer *http.Server, scheduler *reminder.Scheduler, schedulerRunning bool, logger *slog.Logger) {
	stopCtx := make(chan os.Signal, 1)
	signal.Notify(stopCtx, syscall.SIGINT, syscall.SIGTERM)
	<-stopCtx
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if schedulerRunning {
		scheduler.Stop()
	}
}

func printKeys() error {
	public, private, err := vapid.GenerateKeys()
	if err != nil {
		return err
	}
	fmt.Printf("VAPID_PUBLIC_KEY=%s\n", public)
	fmt.Printf("VAPID_PRIVATE_KEY=%q\n", private)
	return nil
}
