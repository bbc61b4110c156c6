package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Manifest — YAML-описание pipeline.
//
//	name: release
//	params:
//	  registry: ghcr.io/acme
//	tasks:
//	  - name: build
//	    command: docker build -t {{ .Params.registry }}/app:{{ .Params.version }} .
//	  - name: approve
//	    kind: approval
//	    runAfter: [build]
type Manifest struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Params      map[string]string `yaml:"params,omitempty"`
	Defaults    *ManifestDefaults `yaml:"defaults,omitempty"`
	Tasks       []ManifestTask    `yaml:"tasks"`
}

// ManifestDefaults — значения по умолчанию для задач манифеста.
type ManifestDefaults struct {
	TimeoutSec int `yaml:"timeout_sec,omitempty"`
	Retries    int `yaml:"retries,omitempty"`
}

// ManifestTask — задача в манифесте.
// runAfter — синоним depends_on в стиле Tekton.
type ManifestTask struct {
	Name        string            `yaml:"name"`
	Kind        string            `yaml:"kind,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty"`
	RunAfter    []string          `yaml:"runAfter,omitempty"`
	Command     string            `yaml:"command,omitempty"`
	Params      map[string]string `yaml:"params,omitempty"`
	TimeoutSec  int               `yaml:"timeout_sec,omitempty"`
	Retries     int               `yaml:"retries,omitempty"`
	Environment string            `yaml:"environment,omitempty"`
}

// LoadManifest читает YAML-манифест и возвращает pipeline.
//
// Неизвестные поля — ошибка. Pipeline не валидируется,
// это делает Validate при регистрации.
func LoadManifest(r io.Reader) (*domain.Pipeline, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrManifest)
		}
		return nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}

	return m.Pipeline(), nil
}

// ParseManifest — LoadManifest для данных в памяти.
func ParseManifest(data []byte) (*domain.Pipeline, error) {
	return LoadManifest(bytes.NewReader(data))
}

// LoadManifestFile читает манифест из файла.
func LoadManifestFile(path string) (*domain.Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	return LoadManifest(f)
}

// Pipeline преобразует манифест в доменную модель.
func (m *Manifest) Pipeline() *domain.Pipeline {
	p := &domain.Pipeline{
		Name:        m.Name,
		Description: m.Description,
		Params:      m.Params,
		Tasks:       make([]domain.TaskDef, 0, len(m.Tasks)),
	}
	if m.Defaults != nil {
		p.Defaults = &domain.TaskDefaults{
			TimeoutSec: m.Defaults.TimeoutSec,
			Retries:    m.Defaults.Retries,
		}
	}

	for _, t := range m.Tasks {
		deps := append([]string{}, t.DependsOn...)
		for _, dep := range t.RunAfter {
			if !containsString(deps, dep) {
				deps = append(deps, dep)
			}
		}

		p.Tasks = append(p.Tasks, domain.TaskDef{
			Name:        t.Name,
			Kind:        domain.TaskKind(t.Kind),
			DependsOn:   deps,
			Command:     t.Command,
			Params:      t.Params,
			TimeoutSec:  t.TimeoutSec,
			Retries:     t.Retries,
			Environment: t.Environment,
		})
	}

	return p
}

// ManifestFromPipeline строит манифест из pipeline (для вывода в YAML).
func ManifestFromPipeline(p *domain.Pipeline) *Manifest {
	m := &Manifest{
		Name:        p.Name,
		Description: p.Description,
		Params:      p.Params,
		Tasks:       make([]ManifestTask, 0, len(p.Tasks)),
	}
	if p.Defaults != nil {
		m.Defaults = &ManifestDefaults{TimeoutSec: p.Defaults.TimeoutSec, Retries: p.Defaults.Retries}
	}
	for _, t := range p.Tasks {
		m.Tasks = append(m.Tasks, ManifestTask{
			Name:        t.Name,
			Kind:        string(t.Kind),
			DependsOn:   t.DependsOn,
			Command:     t.Command,
			Params:      t.Params,
			TimeoutSec:  t.TimeoutSec,
			Retries:     t.Retries,
			Environment: t.Environment,
		})
	}
	return m
}

func containsString(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}
