// Package main is the entry point for the Satya disbursement ledger (sl).
// It opens the SQLite store, builds the participant registry and ledger,
// starts event delivery and serves the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"satya.ledger/sl/internal/api"
	"satya.ledger/sl/internal/config"
	"satya.ledger/sl/internal/docs"
	"satya.ledger/sl/internal/events"
	"satya.ledger/sl/internal/ledger"
	"satya.ledger/sl/internal/logger"
	"satya.ledger/sl/internal/logging"
	"satya.ledger/sl/internal/metrics"
	"satya.ledger/sl/internal/registry"
	"satya.ledger/sl/internal/store"
	"satya.ledger/sl/internal/web"
)

func main() {
	configPath := flag.String("config", envOr("SL_CONFIG_FILE", "config.json"), "path to the JSON configuration file")
	restore := flag.String("restore", "", `replace the database with this backup ("latest" or a file name) before starting`)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	zl, _, err := logging.New(logging.Config{
		Environment: logging.Environment(cfg.Environment),
		Level:       cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl, *restore); err != nil {
		zl.Fatal("ledger stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger, restore string) error {
	zl.Info("satya ledger starting", zap.String("db", cfg.DBFile), zap.Int("port", cfg.Port))

	participants, err := cfg.ParticipantList()
	if err != nil {
		return fmt.Errorf("participants: %w", err)
	}
	proposer, err := cfg.Proposer()
	if err != nil {
		return fmt.Errorf("proposer role: %w", err)
	}
	reg, err := registry.New(participants, proposer)
	if err != nil {
		return err
	}

	if err := ensurePortAvailable(cfg.Port); err != nil {
		return fmt.Errorf("port %d unavailable: %w", cfg.Port, err)
	}

	if restore != "" {
		name, err := store.RestoreBackup(cfg.DBFile, restore)
		if err != nil {
			return fmt.Errorf("restore backup: %w", err)
		}
		zl.Warn("database restored from backup, later transactions are lost", zap.String("backup", name))
	}

	st, err := store.NewStore(cfg.DBFile)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	activity := logger.New(cfg.ActivityBuffer)
	m := metrics.New()

	l, err := ledger.New(st, reg,
		ledger.WithQuorum(cfg.Quorum),
		ledger.WithLogger(zl),
		ledger.WithActivity(activity),
		ledger.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	activity.Info(fmt.Sprintf("Ledger ready: %d participants, quorum %d, proposer %s",
		reg.Len(), cfg.Quorum, proposer.DisplayName()))

	broker := events.NewBroker()
	sinks := []events.Sink{broker}
	if cfg.Kafka.Enabled {
		kafkaSink, err := events.NewKafkaSink(events.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Acks:    cfg.Kafka.Acks,
		}, zl)
		if err != nil {
			return fmt.Errorf("kafka sink: %w", err)
		}
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
		zl.Info("kafka sink enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	dispatcher, err := events.NewDispatcher(st, sinks,
		events.WithInterval(cfg.DispatchInterval.Duration),
		events.WithLogger(zl),
		events.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	server, err := web.NewServer(web.Options{
		Port:     cfg.Port,
		API:      api.NewService(l, st, activity, zl, cfg.MaxBackups),
		Broker:   broker,
		Activity: activity,
		Docs:     docs.NewService(cfg.DocsDir),
		Metrics:  m,
		Log:      zl,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- dispatcher.Run(ctx) }()
	go runBackups(ctx, st, cfg.BackupInterval.Duration, cfg.MaxBackups, zl, activity)

	serverErrors := server.Start()
	zl.Info("HTTP API available", zap.String("url", fmt.Sprintf("http://localhost:%d", cfg.Port)))

	var runErr error
	select {
	case <-ctx.Done():
		zl.Info("shutting down")
	case err := <-serverErrors:
		if err != nil {
			runErr = fmt.Errorf("web server exited: %w", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Warn("HTTP shutdown", zap.Error(err))
	}
	if err := <-dispatchDone; err != nil && !errors.Is(err, context.Canceled) {
		zl.Warn("dispatcher stopped", zap.Error(err))
	}
	if _, err := st.BackupCurrent(cfg.MaxBackups); err != nil {
		zl.Warn("final backup failed", zap.Error(err))
	}
	return runErr
}

// runBackups snapshots the database every interval until ctx is done.
// A non-positive interval disables periodic backups.
func runBackups(ctx context.Context, st *store.Store, interval time.Duration, maxBackups int, zl *zap.Logger, activity *logger.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b, err := st.BackupCurrent(maxBackups)
			if err != nil {
				zl.Error("periodic backup failed", zap.Error(err))
				activity.Error(fmt.Sprintf("Backup failed: %v", err))
				continue
			}
			zl.Info("backup written", zap.String("backup", filepath.Base(b.Path)), zap.Int64("bytes", b.Size))
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func ensurePortAvailable(port int) error {
	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return listener.Close()
}
