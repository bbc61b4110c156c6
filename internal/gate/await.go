package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// DefaultPollInterval — период опроса gate по умолчанию.
const DefaultPollInterval = 15 * time.Second

// Outcome — результат ожидания решения.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	OutcomeTimedOut Outcome = "timed_out"
)

// WaitOptions — параметры ожидания.
type WaitOptions struct {
	// Timeout — сколько ждать решения.
	Timeout time.Duration

	// Interval — период опроса. По умолчанию DefaultPollInterval.
	Interval time.Duration

	// Logger — логгер. По умолчанию slog.Default().
	Logger *slog.Logger

	// OnReset вызывается после сброса gate (например, чтобы сообщить оператору).
	OnReset func(*domain.Gate)
}

// Await сбрасывает gate в PENDING и ждёт решения.
//
// Статус опрашивается раз в Interval. Если store реализует Watcher,
// запись в gate будит ожидание сразу. Истечение таймаута даёт
// OutcomeTimedOut, отличный от отказа. Отмена ctx прерывает ожидание
// и возвращает ошибку ctx.
func Await(ctx context.Context, store Store, key domain.GateKey, opts WaitOptions) (Outcome, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("gate", key.String())

	g, err := store.Reset(ctx, key, opts.Timeout)
	if err != nil {
		return "", fmt.Errorf("reset gate: %w", err)
	}
	logger.Info("waiting for approval", "deadline", g.Deadline)
	if opts.OnReset != nil {
		opts.OnReset(g)
	}

	var wake <-chan struct{}
	if w, ok := store.(Watcher); ok {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		ch, err := w.Watch(watchCtx, key)
		if err != nil {
			logger.Warn("gate watch unavailable, polling only", "error", err)
		} else {
			wake = ch
		}
	}

	deadline := time.NewTimer(time.Until(g.Deadline))
	defer deadline.Stop()

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()

		case <-deadline.C:
			// Решение могло прийти одновременно с дедлайном.
			if outcome, ok := poll(ctx, store, key, logger); ok {
				return outcome, nil
			}
			logger.Info("approval timed out")
			return OutcomeTimedOut, nil

		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			if outcome, ok := poll(ctx, store, key, logger); ok {
				return outcome, nil
			}

		case <-ticker.C:
			if outcome, ok := poll(ctx, store, key, logger); ok {
				return outcome, nil
			}
		}
	}
}

// poll читает статус. Ошибки чтения не прерывают ожидание.
func poll(ctx context.Context, store Store, key domain.GateKey, logger *slog.Logger) (Outcome, bool) {
	status, err := store.Poll(ctx, key)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Warn("gate poll failed", "error", err)
		}
		return "", false
	}

	switch status {
	case domain.GateStatusApproved:
		logger.Info("gate approved")
		return OutcomeApproved, true
	case domain.GateStatusRejected:
		logger.Info("gate rejected")
		return OutcomeRejected, true
	default:
		return "", false
	}
}
