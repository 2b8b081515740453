package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"commissioni/internal/bot"
	"commissioni/internal/cli"
	"commissioni/internal/guard"
	"commissioni/internal/httpapi"
	"commissioni/internal/log"
	"commissioni/internal/notify"
	"commissioni/internal/period"
	"commissioni/internal/report"
	"commissioni/internal/schedule"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_FORMAT"))
	cfg := cli.LoadAndValidateConfig(logger)

	store := cli.OpenStore(logger, cfg.SQLiteDBPath)
	defer store.Close()

	machine := period.NewMachine(store, cfg.Location(), logger)
	engine := report.NewEngine(store, cfg.Location())

	var notifier notify.Notifier
	if cfg.AMQPURL != "" {
		n, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("AMQP unavailable, notifications go to the log", log.FieldError, err)
			notifier = notify.NewLogNotifier(logger)
		} else {
			notifier = n
		}
	} else {
		notifier = notify.NewLogNotifier(logger)
	}
	defer notifier.Close()

	svc := bot.NewService(store, machine, engine, notifier, logger, bot.Options{
		OwnerID:    cfg.OwnerID,
		Ratio:      cfg.Ratio(),
		Location:   cfg.Location(),
		UndoWindow: cfg.UndoWindow,
		Guard: guard.Config{
			DuplicateWindow:   cfg.DuplicateWindow,
			ExtremeMultiplier: cfg.ExtremeMultiplier,
			ExtremeMinSample:  cfg.ExtremeMinSample,
			ZeroActivityDays:  cfg.ZeroActivityDays,
		},
		BoundaryWindow: cfg.BoundaryWindow,
		ConfirmTimeout: cfg.ConfirmTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := machine.Ensure(ctx, time.Now()); err != nil {
		logger.Error("Failed to seed period state", log.FieldError, err)
		os.Exit(1)
	}

	// Trigger times were validated with the config.
	weeklyAt, _ := schedule.ParseTimeOfDay(cfg.WeeklySummaryAt)
	closeAt, _ := schedule.ParseTimeOfDay(cfg.MonthEndCloseAt)
	startAt, _ := schedule.ParseTimeOfDay(cfg.MonthStartAt)
	payoutAt, _ := schedule.ParseTimeOfDay(cfg.PayoutReminderAt)
	activityAt, _ := schedule.ParseTimeOfDay(cfg.ActivityCheckAt)

	runner := schedule.NewRunner(
		bot.Rules(weeklyAt, closeAt, startAt, payoutAt, activityAt),
		store, cfg.Location(), logger)
	svc.Register(runner)

	server := httpapi.NewServer(":"+cfg.Port, svc, logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runner.Run(ctx)
	})

	g.Go(func() error {
		logger.Info("HTTP server listening", log.FieldOperation, log.OpStartup, "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-ctx.Done():
		case sig := <-cli.NotifySignals():
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Exiting with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete", log.FieldOperation, log.OpShutdown)
}
