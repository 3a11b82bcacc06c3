package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fly-apps/machine-scheduler/api"
	"github.com/fly-apps/machine-scheduler/internal/cron"
	"github.com/fly-apps/machine-scheduler/internal/machine"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := cron.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, logger)
	stop()
	if err != nil {
		logger.WithError(err).Fatal("machine scheduler exited with error")
	}

	logger.Info("machine scheduler stopped")
}

// run owns every resource it opens and releases them before returning, so the
// caller may exit the process right after.
func run(ctx context.Context, logger *logrus.Logger) error {
	cfg, err := cron.LoadConfig(logger)
	if err != nil {
		return err
	}

	// Initialize the store
	store, err := cron.InitializeStore(ctx, cfg.StorePath, logger)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Error("failed to close store")
		}
	}()

	auditor := cron.NewStoreAuditor(store, logger)

	client, err := machine.NewClient(ctx, cfg.AppName, cfg.MachineID, cfg.APIToken, logger)
	if err != nil {
		return err
	}

	executor := cron.NewExecutor(client, client, auditor, logger, cfg.Executor)
	defer executor.Close()

	schedules, err := cron.NewScheduleStore(ctx, store, auditor, logger)
	if err != nil {
		return err
	}

	if cfg.SchedulesFile != "" {
		n, err := cron.ImportSchedules(ctx, afero.NewOsFs(), cfg.SchedulesFile, schedules, logger)
		if err != nil {
			logger.Warnf("There was a problem importing your schedules: %s", err)
		} else if n > 0 {
			logger.Infof("imported %d schedule(s) from %s", n, cfg.SchedulesFile)
		}
	}

	autoRestart, err := cron.NewAutoRestarter(ctx, store, executor, auditor, logger)
	if err != nil {
		return err
	}

	scheduler := cron.NewScheduler(schedules, autoRestart, executor, auditor, logger, cfg.TickInterval)

	server := &api.Server{
		Schedules:   schedules,
		Scheduler:   scheduler,
		AutoRestart: autoRestart,
		Executor:    executor,
		Events:      store,
		Logger:      logger,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(ctx)
	})
	g.Go(func() error {
		return cron.MonitorStatus(ctx, executor, auditor, logger, cfg.MonitorInterval)
	})
	g.Go(func() error {
		return api.StartHttpServer(ctx, cfg.APIPort, server.Handler(), logger)
	})

	return g.Wait()
}
