package gate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/domain"
)

const fileSuffix = ".gate.yaml"

// FileStore — Store на файлах: один YAML-документ на gate.
//
// Оператор может принять решение, отредактировав файл вручную:
//
//	status: approved
//
// Неизвестное значение status не ломает опрос: gate остаётся PENDING,
// а в лог пишется предупреждение.
type FileStore struct {
	dir    string
	logger *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// fileGate — формат файла gate.
type fileGate struct {
	RunID     string     `yaml:"run_id"`
	Name      string     `yaml:"name"`
	Status    string     `yaml:"status"`
	Live      bool       `yaml:"live"`
	CreatedAt time.Time  `yaml:"created_at"`
	Deadline  time.Time  `yaml:"deadline"`
	DecidedAt *time.Time `yaml:"decided_at,omitempty"`
	DecidedBy string     `yaml:"decided_by,omitempty"`
}

// NewFileStore создаёт хранилище в каталоге dir.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create gate dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger, now: time.Now}, nil
}

// Dir возвращает каталог хранилища.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path возвращает путь к файлу gate.
func (s *FileStore) Path(key domain.GateKey) string {
	return filepath.Join(s.dir, fileName(key))
}

func fileName(key domain.GateKey) string {
	name := strings.NewReplacer("/", "_", "\\", "_", string(os.PathSeparator), "_").Replace(key.Name)
	return key.RunID.String() + "_" + name + fileSuffix
}

func (s *FileStore) Reset(_ context.Context, key domain.GateKey, timeout time.Duration) (*domain.Gate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := &domain.Gate{RunID: key.RunID, Name: key.Name}
	g.Reset(timeout, s.now())
	if err := s.write(g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *FileStore) Decide(_ context.Context, key domain.GateKey, d domain.Decision, actor string) (*domain.Gate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.read(s.Path(key))
	if err != nil {
		return nil, err
	}
	if !g.Live {
		return nil, ErrGateClosed
	}
	if g.Decide(d, actor, s.now()) {
		if err := s.write(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (s *FileStore) Poll(ctx context.Context, key domain.GateKey) (domain.GateStatus, error) {
	g, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return g.Status, nil
}

func (s *FileStore) Get(_ context.Context, key domain.GateKey) (*domain.Gate, error) {
	return s.read(s.Path(key))
}

func (s *FileStore) List(_ context.Context, runID uuid.UUID) ([]*domain.Gate, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, runID.String()+"_*"+fileSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	out := make([]*domain.Gate, 0, len(matches))
	for _, path := range matches {
		g, err := s.read(path)
		if err != nil {
			s.logger.Warn("skip unreadable gate file", "path", path, "error", err)
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *FileStore) Close(_ context.Context, key domain.GateKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.read(s.Path(key))
	if err != nil {
		return err
	}
	g.Close()
	return s.write(g)
}

// Watch реализует Watcher через fsnotify на каталоге хранилища.
func (s *FileStore) Watch(ctx context.Context, key domain.GateKey) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch gate dir: %w", err)
	}

	target := fileName(key)
	ch := make(chan struct{}, 1)

	go func() {
		defer close(ch)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					select {
					case ch <- struct{}{}:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("fsnotify error", "dir", s.dir, "error", err)
			}
		}
	}()

	return ch, nil
}

func (s *FileStore) read(path string) (*domain.Gate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrGateNotFound
		}
		return nil, fmt.Errorf("read gate: %w", err)
	}

	var fg fileGate
	if err := yaml.Unmarshal(data, &fg); err != nil {
		return nil, fmt.Errorf("parse gate %s: %w", filepath.Base(path), err)
	}

	runID, err := uuid.Parse(fg.RunID)
	if err != nil {
		return nil, fmt.Errorf("parse gate %s: run_id: %w", filepath.Base(path), err)
	}

	g := &domain.Gate{
		RunID:     runID,
		Name:      fg.Name,
		Status:    domain.GateStatusPending,
		Live:      fg.Live,
		CreatedAt: fg.CreatedAt,
		Deadline:  fg.Deadline,
		DecidedAt: fg.DecidedAt,
		DecidedBy: fg.DecidedBy,
	}

	token := strings.TrimSpace(fg.Status)
	if d, ok := domain.ParseDecision(token); ok {
		g.Status = d.Status()
	} else if !strings.EqualFold(token, string(domain.GateStatusPending)) {
		s.logger.Warn("unknown gate status, treating as pending",
			"gate", g.Key().String(),
			"status", token,
		)
	}

	return g, nil
}

// write атомарно записывает gate: временный файл и rename.
func (s *FileStore) write(g *domain.Gate) error {
	fg := fileGate{
		RunID:     g.RunID.String(),
		Name:      g.Name,
		Status:    strings.ToLower(string(g.Status)),
		Live:      g.Live,
		CreatedAt: g.CreatedAt,
		Deadline:  g.Deadline,
		DecidedAt: g.DecidedAt,
		DecidedBy: g.DecidedBy,
	}

	data, err := yaml.Marshal(&fg)
	if err != nil {
		return fmt.Errorf("encode gate: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".gate-*")
	if err != nil {
		return fmt.Errorf("write gate: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write gate: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write gate: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(g.Key())); err != nil {
		return fmt.Errorf("write gate: %w", err)
	}
	return nil
}
