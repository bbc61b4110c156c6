// Package logstore хранит вывод задач.
//
// Каждая задача run получает LogRef вида "{run_id}/{task}", по которому
// вывод можно прочитать через API или CLI независимо от исхода задачи.
package logstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound — лог с такой ссылкой отсутствует.
var ErrNotFound = errors.New("log not found")

// Store — хранилище логов задач.
type Store interface {
	// Put сохраняет вывод задачи и возвращает ссылку на него.
	Put(ctx context.Context, runID uuid.UUID, task string, data []byte) (string, error)

	// Get возвращает вывод по ссылке.
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Ref формирует ссылку на лог задачи.
func Ref(runID uuid.UUID, task string) string {
	return runID.String() + "/" + task
}

// ParseRef разбирает ссылку на лог.
func ParseRef(ref string) (uuid.UUID, string, error) {
	id, task, ok := strings.Cut(ref, "/")
	if !ok || task == "" {
		return uuid.Nil, "", fmt.Errorf("%w: malformed ref %q", ErrNotFound, ref)
	}
	runID, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: malformed ref %q", ErrNotFound, ref)
	}
	return runID, task, nil
}

// MemoryStore — Store в памяти процесса.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]byte
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, runID uuid.UUID, task string, data []byte) (string, error) {
	ref := Ref(runID, task)
	s.mu.Lock()
	s.logs[ref] = append([]byte(nil), data...)
	s.mu.Unlock()
	return ref, nil
}

func (s *MemoryStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.logs[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// FileStore — Store на файлах: {dir}/{run_id}/{task}.log.
type FileStore struct {
	dir string
}

// NewFileStore создаёт хранилище в каталоге dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(runID uuid.UUID, task string) string {
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(task)
	return filepath.Join(s.dir, runID.String(), name+".log")
}

func (s *FileStore) Put(_ context.Context, runID uuid.UUID, task string, data []byte) (string, error) {
	path := s.path(runID, task)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("write log: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write log: %w", err)
	}
	return Ref(runID, task), nil
}

func (s *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	runID, task, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(runID, task))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read log: %w", err)
	}
	return data, nil
}
