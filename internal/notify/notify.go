package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shaiso/Conveyor/internal/domain"
)

var (
	// ErrNotify — promotion не доставлена.
	ErrNotify = errors.New("promotion notify failed")

	// ErrMissingVersion — нечего продвигать: параметр version пуст.
	ErrMissingVersion = errors.New("promotion has no version")
)

// Notifier — получатель намерений продвинуть версию в окружение.
//
// Notify возвращает nil только после того, как намерение принято
// транспортом. Любая ошибка проваливает deploy-задачу.
type Notifier interface {
	Notify(ctx context.Context, promo domain.Promotion) error
}

// NotifierFunc — адаптер функции к Notifier.
type NotifierFunc func(ctx context.Context, promo domain.Promotion) error

// Notify реализует Notifier.
func (f NotifierFunc) Notify(ctx context.Context, promo domain.Promotion) error {
	return f(ctx, promo)
}

// Recorder — Notifier, запоминающий все promotions в памяти.
type Recorder struct {
	mu         sync.Mutex
	promotions []domain.Promotion

	// Err, если задан, возвращается из Notify вместо записи.
	Err error
}

// NewRecorder создаёт пустой Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Notify реализует Notifier.
func (r *Recorder) Notify(_ context.Context, promo domain.Promotion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.promotions = append(r.promotions, promo)
	return nil
}

// Promotions возвращает копию записанных promotions.
func (r *Recorder) Promotions() []domain.Promotion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Promotion(nil), r.promotions...)
}

// LogNotifier — Notifier, только пишущий promotion в лог.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify реализует Notifier.
func (n LogNotifier) Notify(_ context.Context, promo domain.Promotion) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("promotion requested",
		"run_id", promo.RunID,
		"pipeline", promo.Pipeline,
		"environment", promo.Environment,
		"version", promo.Version,
	)
	return nil
}

// Multi рассылает promotion всем notifiers по порядку.
// Первая ошибка прерывает рассылку.
type Multi []Notifier

// Notify реализует Notifier.
func (m Multi) Notify(ctx context.Context, promo domain.Promotion) error {
	for i, n := range m {
		if err := n.Notify(ctx, promo); err != nil {
			return fmt.Errorf("notifier %d: %w", i, err)
		}
	}
	return nil
}
