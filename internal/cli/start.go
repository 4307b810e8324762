package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haskel/dermfox/internal/config"
	"github.com/haskel/dermfox/internal/history"
	"github.com/haskel/dermfox/internal/inference"
	"github.com/haskel/dermfox/internal/intake"
	"github.com/haskel/dermfox/internal/logger"
	"github.com/haskel/dermfox/internal/metrics"
	"github.com/haskel/dermfox/internal/model"
	"github.com/haskel/dermfox/internal/monitor"
	"github.com/haskel/dermfox/internal/retrain"
	"github.com/haskel/dermfox/internal/server"
	"github.com/haskel/dermfox/internal/staging"
	"github.com/haskel/dermfox/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the dermfox server",
	Long:  `Start the dermfox server in foreground mode.`,
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = host
	}

	log, logCloser := logger.NewWithFile(cfg.Logging.Level, cfg.Logging.Format, logger.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer logCloser.Close()

	log.Info("dermfox starting",
		"version", Version,
		"config", cfgFile,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistent counters survive restarts and seed the model version.
	state := storage.New(cfg.Persistence.DataDir, cfg.FlushInterval(), log)
	if err := state.Load(); err != nil {
		log.Warn("failed to load persisted state", "error", err)
	}
	state.Start(ctx)

	weights := storage.NewModelStorage(cfg.Model.WeightsPath, log)
	holder := model.New(weights, model.Options{
		Architecture:   cfg.Architecture(),
		Seed:           cfg.Model.Seed,
		InitialVersion: state.ModelVersion(),
	}, log)
	if err := holder.Load(); err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	area, err := staging.Open(cfg.Staging.Dir, log)
	if err != nil {
		return err
	}

	runs, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer runs.Close()
	pruneHistory(ctx, runs, cfg.HistoryRetention(), log)

	guard := monitor.NewGuard(cfg.MinFreeDiskBytes(), cfg.Guards.MaxMemoryPercent)

	agg := monitor.NewAggregator([]monitor.Monitor{
		monitor.NewCPUMonitor(),
		monitor.NewMemoryMonitor(),
		monitor.NewStorageMonitor(map[string]string{
			"staging": cfg.Staging.Dir,
			"model":   filepath.Dir(cfg.Model.WeightsPath),
			"data":    cfg.Persistence.DataDir,
		}),
		monitor.NewProcessMonitor(),
	}, cfg.MonitoringInterval(), log)
	if err := agg.Start(ctx); err != nil {
		return fmt.Errorf("failed to start aggregator: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	trainer := retrain.NewTrainer(area, holder, retrain.TrainerConfig{
		Train:   cfg.TrainConfig(),
		Workers: cfg.Retrain.Workers,
		Guard:   guard,
		Logger:  log,
	})
	sched := retrain.NewScheduler(trainer, area, retrain.Config{
		Threshold:     cfg.Retrain.Threshold,
		CheckInterval: cfg.CheckInterval(),
		Timeout:       cfg.RetrainTimeout(),
		History:       runs,
		State:         state,
		Metrics:       m,
		Logger:        log,
	})

	m.RegisterStateGauges(
		func() float64 { return float64(area.Count()) },
		func() float64 { return float64(sched.Threshold()) },
		func() float64 { return float64(holder.Version()) },
	)

	inf, err := inference.New(holder, cfg.Inference.CacheSize, m, log)
	if err != nil {
		return err
	}
	in := intake.New(area, sched, intake.Options{
		Guard:    guard,
		Recorder: state,
		Metrics:  m,
		Logger:   log,
	})

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start retrain scheduler: %w", err)
	}

	if cfg.Server.PIDFile != "" {
		if err := writePIDFile(cfg.Server.PIDFile); err != nil {
			log.Warn("failed to write PID file", "error", err)
		} else {
			defer os.Remove(cfg.Server.PIDFile)
		}
	}

	srv := server.New(cfg, server.Deps{
		Holder:    holder,
		Inference: inf,
		Intake:    in,
		Scheduler: sched,
		Area:      area,
		History:   runs,
		Monitor:   agg,
		Guard:     guard,
		Metrics:   m,
	}, log, Version)

	reload := func(newCfg *config.Config) {
		srv.ReloadConfig(newCfg)
	}

	if cfg.Server.WatchConfig && cfgFile != "" {
		go func() {
			err := config.Watch(ctx, cfgFile, reload, func(err error) {
				log.Error("invalid configuration, reload skipped", "error", err)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("config watcher stopped", "error", err)
			}
		}()
	}

	sighupCh := make(chan os.Signal, 1)
	sigCh := make(chan os.Signal, 1)
	shutdownDone := make(chan struct{})

	signal.Notify(sighupCh, syscall.SIGHUP)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Handle SIGHUP for hot-reload
	go func() {
		for {
			select {
			case <-sighupCh:
				log.Info("SIGHUP received, reloading configuration")

				if cfgFile == "" {
					log.Warn("no config file given, nothing to reload")
					continue
				}
				newCfg, err := config.Load(cfgFile)
				if err != nil {
					log.Error("invalid configuration, reload aborted", "error", err)
					continue
				}
				reload(newCfg)
			case <-shutdownDone:
				return
			}
		}
	}()

	go func() {
		<-sigCh

		log.Info("shutdown signal received")

		signal.Stop(sighupCh)
		signal.Stop(sigCh)
		close(shutdownDone)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error", "error", err)
		}

		// Cancels a running pass; staged files stay for the next start.
		sched.Stop()

		if err := state.Stop(); err != nil {
			log.Error("storage shutdown error", "error", err)
		}

		agg.Stop()
		cancel()
	}()

	log.Info("dermfox ready",
		"addr", srv.Addr(),
		"model_version", holder.Version(),
		"staged", area.Count(),
		"threshold", sched.Threshold(),
	)

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-ctx.Done()
	log.Info("dermfox stopped")
	return nil
}

func pruneHistory(ctx context.Context, runs *history.Store, retention time.Duration, log *slog.Logger) {
	if retention <= 0 {
		return
	}
	n, err := runs.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		log.Warn("failed to prune retrain history", "error", err)
		return
	}
	if n > 0 {
		log.Info("pruned retrain history", "removed", n, "retention", retention)
	}
}

func writePIDFile(path string) error {
	pid := os.Getpid()
	return os.WriteFile(path, []byte(fmt.Sprintf("%d", pid)), 0644)
}
