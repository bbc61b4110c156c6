// Conveyor Orchestrator — выполняет runs.
//
// Orchestrator:
//   - Получает новые runs и запросы отмены из RabbitMQ
//   - Опрашивает БД, если RabbitMQ недоступен
//   - Выполняет задачи tier за tier и ждёт решений approval gates
//   - Отправляет promotion для deploy задач
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/logstore"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/notify"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/runner"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger("conveyor-orchestrator")
	logger.Info("starting conveyor-orchestrator")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	mqURL := cfg.RabbitMQURL
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}
	var (
		mqConn    *mq.Connection
		publisher *mq.Publisher
	)
	mqConn, err = mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		publisher = mq.NewPublisher(mqConn, logger)
	}

	notifier, err := promotionNotifier(cfg, publisher, logger)
	if err != nil {
		logger.Error("promotion notifier unavailable", "mode", cfg.PromotionMode, "error", err)
		os.Exit(1)
	}

	var logs logstore.Store = repo.NewLogRepo(pool)
	if cfg.LogDir != "" {
		if logs, err = logstore.NewFileStore(cfg.LogDir); err != nil {
			logger.Error("failed to open log dir", "error", err)
			os.Exit(1)
		}
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	taskRunner := runner.New(runner.Config{
		Registry: runner.NewRegistry(runner.NewCommandExecutor(cfg.WorkDir), notifier),
		Logs:     logs,
		Logger:   logger,
	})

	orch := orchestrator.New(orchestrator.Config{
		Pipelines:        repo.NewPipelineRepo(pool),
		Runs:             repo.NewRunRepo(pool),
		Gates:            repo.NewGateRepo(pool, logger),
		Runner:           taskRunner,
		Conn:             mqConn,
		MaxActiveRuns:    cfg.MaxActiveRuns,
		MaxParallelTasks: cfg.MaxParallelTasks,
		PollInterval:     cfg.PollInterval,
		GatePollInterval: cfg.GatePollInterval,
		Metrics:          metrics,
		Logger:           logger,
	})

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              ":" + cfg.OrchPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	orch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	logger.Info("conveyor-orchestrator stopped")
}

// promotionNotifier выбирает получателя promotion по PROMOTION_MODE.
// Режим mq без соединения с RabbitMQ — ошибка: promotion не должны
// теряться в логе.
func promotionNotifier(cfg *config.Config, publisher *mq.Publisher, logger *slog.Logger) (notify.Notifier, error) {
	switch cfg.PromotionMode {
	case config.PromotionModeMQ:
		if publisher == nil {
			return nil, fmt.Errorf("promotion mode %s: %w", cfg.PromotionMode, mq.ErrNotConnected)
		}
		return notify.NewMQNotifier(publisher), nil
	case config.PromotionModeWebhook:
		return notify.NewWebhookNotifier(cfg.PromotionWebhookURL), nil
	case config.PromotionModeValues:
		n := notify.NewValuesNotifier(cfg.ValuesDir, logger)
		n.KeyPath = cfg.ValuesKey
		n.Git = notify.GitOptions{Enabled: cfg.GitPush, Push: cfg.GitPush}
		return n, nil
	default:
		return notify.LogNotifier{Logger: logger}, nil
	}
}
