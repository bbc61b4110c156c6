package gate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// MemoryStore — Store в памяти процесса.
type MemoryStore struct {
	mu       sync.Mutex
	gates    map[domain.GateKey]*domain.Gate
	watchers map[domain.GateKey][]chan struct{}
	now      func() time.Time
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		gates:    make(map[domain.GateKey]*domain.Gate),
		watchers: make(map[domain.GateKey][]chan struct{}),
		now:      time.Now,
	}
}

func (s *MemoryStore) Reset(_ context.Context, key domain.GateKey, timeout time.Duration) (*domain.Gate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.gates[key]
	if !ok {
		g = &domain.Gate{RunID: key.RunID, Name: key.Name}
		s.gates[key] = g
	}
	g.Reset(timeout, s.now())
	s.notifyLocked(key)

	c := *g
	return &c, nil
}

func (s *MemoryStore) Decide(_ context.Context, key domain.GateKey, d domain.Decision, actor string) (*domain.Gate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.gates[key]
	if !ok {
		return nil, ErrGateNotFound
	}
	if !g.Live {
		return nil, ErrGateClosed
	}
	if g.Decide(d, actor, s.now()) {
		s.notifyLocked(key)
	}

	c := *g
	return &c, nil
}

func (s *MemoryStore) Poll(_ context.Context, key domain.GateKey) (domain.GateStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.gates[key]
	if !ok {
		return "", ErrGateNotFound
	}
	return g.Status, nil
}

func (s *MemoryStore) Get(_ context.Context, key domain.GateKey) (*domain.Gate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.gates[key]
	if !ok {
		return nil, ErrGateNotFound
	}
	c := *g
	return &c, nil
}

func (s *MemoryStore) List(_ context.Context, runID uuid.UUID) ([]*domain.Gate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Gate, 0)
	for key, g := range s.gates {
		if key.RunID == runID {
			c := *g
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) Close(_ context.Context, key domain.GateKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.gates[key]
	if !ok {
		return ErrGateNotFound
	}
	g.Close()
	s.notifyLocked(key)
	return nil
}

// Watch реализует Watcher.
func (s *MemoryStore) Watch(ctx context.Context, key domain.GateKey) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	s.watchers[key] = append(s.watchers[key], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.watchers[key]
		for i, c := range list {
			if c == ch {
				s.watchers[key] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(s.watchers[key]) == 0 {
			delete(s.watchers, key)
		}
		close(ch)
	}()

	return ch, nil
}

// notifyLocked будит подписчиков. Вызывается под s.mu.
func (s *MemoryStore) notifyLocked(key domain.GateKey) {
	for _, ch := range s.watchers[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
