package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/gate"
)

// gateChannel — канал LISTEN/NOTIFY для изменений gates.
// Payload уведомления — GateKey.String().
const gateChannel = "conveyor_gates"

// GateRepo — gate.Store в PostgreSQL.
//
// Каждая запись публикует pg_notify, поэтому ожидание решения
// просыпается сразу, а не на следующем опросе.
type GateRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewGateRepo создаёт новый GateRepo.
func NewGateRepo(pool *pgxpool.Pool, logger *slog.Logger) *GateRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &GateRepo{pool: pool, logger: logger}
}

var _ gate.Store = (*GateRepo)(nil)
var _ gate.Watcher = (*GateRepo)(nil)

const gateColumns = `run_id, name, status, live, created_at, deadline, decided_at, decided_by`

// Reset создаёт gate или сбрасывает существующий в PENDING.
func (r *GateRepo) Reset(ctx context.Context, key domain.GateKey, timeout time.Duration) (*domain.Gate, error) {
	var g domain.Gate
	g.RunID, g.Name = key.RunID, key.Name
	g.Reset(timeout, time.Now())

	query := `
		INSERT INTO gates (run_id, name, status, live, created_at, deadline)
		VALUES ($1, $2, $3, TRUE, $4, $5)
		ON CONFLICT (run_id, name) DO UPDATE
		SET status = EXCLUDED.status, live = TRUE, created_at = EXCLUDED.created_at,
		    deadline = EXCLUDED.deadline, decided_at = NULL, decided_by = NULL
		RETURNING ` + gateColumns

	out, err := scanGate(r.pool.QueryRow(ctx, query, key.RunID, key.Name, g.Status, g.CreatedAt, g.Deadline))
	if err != nil {
		return nil, fmt.Errorf("reset gate: %w", err)
	}
	r.notify(ctx, key)
	return out, nil
}

// Decide записывает решение по живому gate.
func (r *GateRepo) Decide(ctx context.Context, key domain.GateKey, d domain.Decision, actor string) (*domain.Gate, error) {
	query := `
		UPDATE gates
		SET status = $3, decided_at = NOW(), decided_by = $4
		WHERE run_id = $1 AND name = $2 AND live AND status <> $3
		RETURNING ` + gateColumns

	g, err := scanGate(r.pool.QueryRow(ctx, query, key.RunID, key.Name, d.Status(), nullString(actor)))
	if err == nil {
		r.notify(ctx, key)
		return g, nil
	}
	if !errors.Is(err, gate.ErrGateNotFound) {
		return nil, fmt.Errorf("decide gate: %w", err)
	}

	// Строка не обновлена: gate нет, он закрыт или решение уже такое же.
	current, err := r.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !current.Live {
		return nil, gate.ErrGateClosed
	}
	return current, nil
}

// Poll возвращает текущий статус gate.
func (r *GateRepo) Poll(ctx context.Context, key domain.GateKey) (domain.GateStatus, error) {
	var status domain.GateStatus
	err := r.pool.QueryRow(ctx,
		`SELECT status FROM gates WHERE run_id = $1 AND name = $2`,
		key.RunID, key.Name,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", gate.ErrGateNotFound
	}
	if err != nil {
		return "", fmt.Errorf("poll gate: %w", err)
	}
	return status, nil
}

// Get возвращает gate целиком.
func (r *GateRepo) Get(ctx context.Context, key domain.GateKey) (*domain.Gate, error) {
	query := `SELECT ` + gateColumns + ` FROM gates WHERE run_id = $1 AND name = $2`
	return scanGate(r.pool.QueryRow(ctx, query, key.RunID, key.Name))
}

// List возвращает gates run.
func (r *GateRepo) List(ctx context.Context, runID uuid.UUID) ([]*domain.Gate, error) {
	query := `SELECT ` + gateColumns + ` FROM gates WHERE run_id = $1 ORDER BY name`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list gates: %w", err)
	}
	defer rows.Close()

	gates := make([]*domain.Gate, 0)
	for rows.Next() {
		g, err := scanGate(rows)
		if err != nil {
			return nil, err
		}
		gates = append(gates, g)
	}
	return gates, rows.Err()
}

// Close снимает gate с ожидания.
func (r *GateRepo) Close(ctx context.Context, key domain.GateKey) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE gates SET live = FALSE WHERE run_id = $1 AND name = $2`,
		key.RunID, key.Name,
	)
	if err != nil {
		return fmt.Errorf("close gate: %w", err)
	}
	if result.RowsAffected() == 0 {
		return gate.ErrGateNotFound
	}
	r.notify(ctx, key)
	return nil
}

// Watch подписывается на изменения gate через LISTEN.
//
// Подписка держит отдельное соединение из пула до отмены ctx.
func (r *GateRepo) Watch(ctx context.Context, key domain.GateKey) (<-chan struct{}, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+gateChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}

	ch := make(chan struct{}, 1)
	want := key.String()

	go func() {
		defer close(ch)
		defer func() {
			// Соединение вернётся в пул, подписка ему не нужна.
			unlistenCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.Exec(unlistenCtx, "UNLISTEN "+gateChannel); err != nil {
				conn.Conn().Close(unlistenCtx)
			}
			conn.Release()
		}()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Warn("gate listen failed", "gate", want, "error", err)
				}
				return
			}
			if n.Payload != want {
				continue
			}
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()

	return ch, nil
}

// notify публикует изменение gate. Ошибка не фатальна: ожидающий
// всё равно увидит решение при следующем опросе.
func (r *GateRepo) notify(ctx context.Context, key domain.GateKey) {
	if _, err := r.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, gateChannel, key.String()); err != nil {
		r.logger.Warn("gate notify failed", "gate", key.String(), "error", err)
	}
}

func scanGate(row pgx.Row) (*domain.Gate, error) {
	var g domain.Gate
	var decidedBy *string

	err := row.Scan(
		&g.RunID,
		&g.Name,
		&g.Status,
		&g.Live,
		&g.CreatedAt,
		&g.Deadline,
		&g.DecidedAt,
		&decidedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gate.ErrGateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan gate: %w", err)
	}
	g.DecidedBy = deref(decidedBy)
	return &g, nil
}
