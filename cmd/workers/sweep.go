package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/igdrones/ig-docs-backend/internal/bootstrap"
	"github.com/igdrones/ig-docs-backend/internal/config"
	"github.com/igdrones/ig-docs-backend/internal/documents"
)

func NewSweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Delete blobs left behind by transitions that never committed",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Run a single batch and exit",
			},
			&cli.IntFlag{
				Name:    "max-concurrent",
				Usage:   "Parallel deletions per batch",
				Value:   4,
				Sources: cli.EnvVars("SWEEP_MAX_CONCURRENT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := config.LoadConfig(command.String("config"))
			if err != nil {
				return err
			}
			if lvl := command.String("log-level"); lvl != "" {
				cfg.Logging.Level = lvl
			}

			logger, err := bootstrap.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer logger.Sync()
			logger = logger.With(zap.String("worker", "sweeper"))

			db, err := bootstrap.OpenDatabase(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			objects, err := bootstrap.NewObjectStore(ctx, cfg)
			if err != nil {
				return err
			}

			sweeper := documents.NewSweeper(
				documents.NewRepository(db),
				bootstrap.NewStorageProvider(objects, cfg.Storage),
				logger,
				documents.SweeperConfig{
					BatchSize:     cfg.Workers.BatchSize,
					MaxConcurrent: int(command.Int("max-concurrent")),
				},
			)

			if command.Bool("once") {
				removed, err := sweeper.SweepOnce(ctx)
				if err != nil {
					return err
				}
				logger.Info("Sweep finished", zap.Int("removed", removed))
				return nil
			}

			return schedule(ctx, cfg.Workers.SweepSchedule, sweeper, logger)
		},
	}
}

// schedule runs the sweeper on a seconds-resolution cron spec until SIGINT or SIGTERM.
func schedule(ctx context.Context, spec string, sweeper *documents.Sweeper, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() {
		removed, err := sweeper.SweepOnce(ctx)
		if err != nil {
			logger.Error("Sweep failed", zap.Error(err))
			return
		}
		if removed > 0 {
			logger.Info("Sweep removed orphaned blobs", zap.Int("removed", removed))
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}

	logger.Info("Sweeper started", zap.String("schedule", spec))
	c.Start()
	<-ctx.Done()

	logger.Info("Sweeper shutting down")
	<-c.Stop().Done()
	return nil
}
