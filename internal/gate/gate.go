package gate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

var (
	// ErrGateNotFound — gate с таким ключом не создавался.
	ErrGateNotFound = errors.New("gate not found")

	// ErrGateClosed — gate закрыт, решения больше не принимаются.
	ErrGateClosed = errors.New("gate is not live")

	// ErrUnknownDecision — решение вне словаря {approved, rejected}.
	ErrUnknownDecision = errors.New("unknown decision")
)

// Store — хранилище approval gates.
//
// Реализации: MemoryStore, FileStore и repo.GateRepo (PostgreSQL).
type Store interface {
	// Reset создаёт gate или сбрасывает существующий в PENDING.
	// Предыдущее решение стирается.
	Reset(ctx context.Context, key domain.GateKey, timeout time.Duration) (*domain.Gate, error)

	// Decide записывает решение. Повтор того же решения — no-op,
	// при конфликте побеждает последняя запись.
	Decide(ctx context.Context, key domain.GateKey, d domain.Decision, actor string) (*domain.Gate, error)

	// Poll возвращает текущий статус без побочных эффектов.
	Poll(ctx context.Context, key domain.GateKey) (domain.GateStatus, error)

	// Get возвращает gate целиком.
	Get(ctx context.Context, key domain.GateKey) (*domain.Gate, error)

	// List возвращает gates run.
	List(ctx context.Context, runID uuid.UUID) ([]*domain.Gate, error)

	// Close снимает gate с ожидания.
	Close(ctx context.Context, key domain.GateKey) error
}

// Watcher — опциональная возможность Store сообщать об изменениях.
//
// Канал получает сигнал после каждой записи в gate и закрывается
// при отмене ctx. Сигналы не несут данных, статус нужно перечитать.
type Watcher interface {
	Watch(ctx context.Context, key domain.GateKey) (<-chan struct{}, error)
}

// DecideString разбирает решение и записывает его.
// Неизвестные значения отклоняются, статус gate не меняется.
func DecideString(ctx context.Context, store Store, key domain.GateKey, decision, actor string) (*domain.Gate, error) {
	d, ok := domain.ParseDecision(decision)
	if !ok {
		return nil, ErrUnknownDecision
	}
	return store.Decide(ctx, key, d, actor)
}

// CloseRun закрывает все gates run.
func CloseRun(ctx context.Context, store Store, runID uuid.UUID) error {
	gates, err := store.List(ctx, runID)
	if err != nil {
		return err
	}
	var errs []error
	for _, g := range gates {
		if !g.Live {
			continue
		}
		if err := store.Close(ctx, g.Key()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
