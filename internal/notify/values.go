package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/domain"
)

// ValuesNotifier — GitOps-продвижение через values-файлы.
//
// Для окружения env в каталоге Dir правится файл values-{env}.yaml:
// ключ KeyPath (по умолчанию image.tag) получает новую версию, остальной
// документ и комментарии сохраняются. Если включён Git, изменение
// коммитится (и при Push отправляется в remote).
type ValuesNotifier struct {
	Dir     string
	KeyPath string
	Git     GitOptions
	Logger  *slog.Logger

	mu sync.Mutex
}

// GitOptions — публикация изменений values-файлов.
type GitOptions struct {
	Enabled bool
	Push    bool
	Remote  string
	Branch  string
}

const defaultValuesKey = "image.tag"

// NewValuesNotifier создаёт ValuesNotifier для каталога dir.
func NewValuesNotifier(dir string, logger *slog.Logger) *ValuesNotifier {
	return &ValuesNotifier{Dir: dir, KeyPath: defaultValuesKey, Logger: logger}
}

// ValuesFile возвращает путь к values-файлу окружения.
func (n *ValuesNotifier) ValuesFile(env string) string {
	return filepath.Join(n.Dir, fmt.Sprintf("values-%s.yaml", env))
}

// Notify реализует Notifier.
func (n *ValuesNotifier) Notify(ctx context.Context, promo domain.Promotion) error {
	if promo.Version == "" {
		return ErrMissingVersion
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	path := n.ValuesFile(promo.Environment)
	changed, err := n.rewrite(path, promo.Version)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotify, err)
	}

	logger := n.logger().With("environment", promo.Environment, "version", promo.Version, "file", path)
	if changed {
		logger.Info("values file updated")
	} else {
		logger.Info("values file already at version")
	}

	if !n.Git.Enabled {
		return nil
	}
	// Git-шаги выполняются и для неизменённого файла: повтор после
	// неудачного commit или push должен довести публикацию до конца.
	if err := n.publish(ctx, path, promo); err != nil {
		return fmt.Errorf("%w: %v", ErrNotify, err)
	}
	return nil
}

func (n *ValuesNotifier) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

// rewrite меняет значение ключа в values-файле.
// Возвращает false, если значение уже совпадало.
func (n *ValuesNotifier) rewrite(path, version string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read values: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return false, fmt.Errorf("parse values %s: %w", filepath.Base(path), err)
	}

	keyPath := n.KeyPath
	if keyPath == "" {
		keyPath = defaultValuesKey
	}

	changed, err := SetYAMLValue(&root, strings.Split(keyPath, "."), version)
	if err != nil || !changed {
		return false, err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return false, fmt.Errorf("encode values: %w", err)
	}
	if err := enc.Close(); err != nil {
		return false, fmt.Errorf("encode values: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return false, fmt.Errorf("write values: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("write values: %w", err)
	}
	return true, nil
}

// SetYAMLValue записывает строковое значение по пути ключей,
// создавая недостающие mapping-узлы. Возвращает false, если значение не изменилось.
func SetYAMLValue(root *yaml.Node, path []string, value string) (bool, error) {
	if len(path) == 0 {
		return false, fmt.Errorf("empty key path")
	}

	if root.Kind == 0 {
		root.Kind = yaml.DocumentNode
	}
	node := root
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			node.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
		}
		node = node.Content[0]
	}

	for i, key := range path {
		if node.Kind != yaml.MappingNode {
			return false, fmt.Errorf("%s is not a mapping", strings.Join(path[:i], "."))
		}

		var next *yaml.Node
		for j := 0; j+1 < len(node.Content); j += 2 {
			if node.Content[j].Value == key {
				next = node.Content[j+1]
				break
			}
		}

		last := i == len(path)-1
		if next == nil {
			next = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			if last {
				next = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str"}
			}
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, next)
		}

		if last {
			if next.Kind != yaml.ScalarNode {
				return false, fmt.Errorf("%s is not a scalar", strings.Join(path, "."))
			}
			if next.Value == value && next.Tag != "" {
				return false, nil
			}
			next.Value = value
			next.Tag = "!!str"
			return true, nil
		}
		node = next
	}

	return false, nil
}

// publish коммитит values-файл, если в нём есть незафиксированные
// изменения, и при Push отправляет HEAD в remote.
func (n *ValuesNotifier) publish(ctx context.Context, path string, promo domain.Promotion) error {
	rel, err := filepath.Rel(n.Dir, path)
	if err != nil {
		rel = path
	}

	if _, err := n.git(ctx, "add", "--", rel); err != nil {
		return err
	}

	staged, err := n.hasStaged(ctx, rel)
	if err != nil {
		return err
	}
	if staged {
		msg := fmt.Sprintf("promote %s to %s (%s run %s)", promo.Environment, promo.Version, promo.Pipeline, promo.RunID)
		if _, err := n.git(ctx, "commit", "-m", msg, "--", rel); err != nil {
			return err
		}
	}

	if !n.Git.Push {
		return nil
	}
	remote := n.Git.Remote
	if remote == "" {
		remote = "origin"
	}
	push := []string{"push", remote}
	if n.Git.Branch != "" {
		push = append(push, "HEAD:"+n.Git.Branch)
	}
	_, err = n.git(ctx, push...)
	return err
}

// hasStaged сообщает, есть ли в индексе изменения файла rel.
func (n *ValuesNotifier) hasStaged(ctx context.Context, rel string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", n.Dir, "diff", "--cached", "--quiet", "--", rel)
	err := cmd.Run()
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, fmt.Errorf("git diff: %w", err)
}

func (n *ValuesNotifier) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", n.Dir}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %v: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
