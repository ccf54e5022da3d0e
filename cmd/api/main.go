package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/loanledger/pkg/config"
	"github.com/mcclellann/loanledger/pkg/events"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/loanno"
	"github.com/mcclellann/loanledger/pkg/metrics"
	"github.com/mcclellann/loanledger/pkg/notify"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/mcclellann/loanledger/pkg/store/postgres"
	"github.com/sirupsen/logrus"
)

func main() {
	migrateDown := flag.Bool("migrate-down", false, "roll back every postgres migration and exit")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(level)

	if *migrateDown {
		if err := rollbackMigrations(cfg); err != nil {
			log.Fatalf("Failed to roll back migrations: %v", err)
		}
		log.Info("Migrations rolled back")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize %s store: %v", cfg.StoreDriver, err)
	}
	defer storage.Close()

	numbers, err := loanno.NewGenerator(cfg.NodeID)
	if err != nil {
		log.Fatalf("Failed to create loan number generator: %v", err)
	}

	opts := []ledger.Option{
		ledger.WithLoanNumbers(numbers),
		ledger.WithLockTimeout(cfg.LockTimeout),
		ledger.WithReminderDays(cfg.ReminderDays),
	}
	if cfg.CreditCheck {
		opts = append(opts, ledger.WithCreditPolicy(cfg.CreditPolicy()))
	}
	if cfg.EmailEnabled() {
		opts = append(opts, ledger.WithNotifier(notify.NewEmailSender(cfg.SMTP)))
	} else {
		opts = append(opts, ledger.WithNotifier(notify.LogSender{Logger: log}))
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer publisher.Close()
		opts = append(opts, ledger.WithPublisher(publisher))
	}

	server := NewServer(storage, log, metrics.New(), opts...)

	go server.runSweeps(ctx, cfg.SweepInterval)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Infof("Server starting on :%d", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
	}
	log.Info("Server gracefully stopped")
}

func openStorage(ctx context.Context, cfg *config.Config) (store.Storage, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// rollbackMigrations undoes the postgres schema. The sqlite store manages its
// own schema and has nothing to roll back.
func rollbackMigrations(cfg *config.Config) error {
	if cfg.StoreDriver != config.DriverPostgres {
		return fmt.Errorf("migrate-down needs STORE_DRIVER=%s, got %q", config.DriverPostgres, cfg.StoreDriver)
	}
	return postgres.RunMigrationsDown(cfg.Database.DSN())
}

// runSweeps charges late fees, reconciles every active loan and sends
// payment reminders once per interval until ctx is cancelled.
func (s *Server) runSweeps(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logger.Info("Running daily sweep...")
			if _, err := s.ledger.RunDailySweep(ctx, time.Time{}); err != nil {
				s.logger.WithError(err).Warn("daily sweep finished with failures")
			}
		}
	}
}
