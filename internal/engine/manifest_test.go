package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/domain"
)

const releaseManifest = `
name: release
description: build and promote
params:
  registry: ghcr.io/acme
defaults:
  timeout_sec: 300
tasks:
  - name: build
    command: docker build -t {{ .Params.registry }}/app:{{ .Params.version }} .
  - name: scan
    command: trivy image app
    runAfter: [build]
  - name: deploy-dev
    kind: deploy
    environment: dev
    depends_on: [scan]
  - name: approve
    kind: approval
    timeout_sec: 900
    runAfter: [deploy-dev]
  - name: deploy-prod
    kind: deploy
    environment: prod
    depends_on: [approve]
    runAfter: [approve]
`

func TestParseManifest(t *testing.T) {
	p, err := ParseManifest([]byte(releaseManifest))
	require.NoError(t, err)

	assert.Equal(t, "release", p.Name)
	assert.Equal(t, "ghcr.io/acme", p.Params["registry"])
	require.NotNil(t, p.Defaults)
	assert.Equal(t, 300, p.Defaults.TimeoutSec)
	require.Len(t, p.Tasks, 5)

	scan, ok := p.Task("scan")
	require.True(t, ok)
	assert.Equal(t, []string{"build"}, scan.DependsOn)

	prod, ok := p.Task("deploy-prod")
	require.True(t, ok)
	assert.Equal(t, []string{"approve"}, prod.DependsOn, "runAfter duplicates must be merged")
	assert.Equal(t, domain.TaskKindDeploy, prod.Kind)
	assert.Equal(t, "prod", prod.Environment)

	approve, _ := p.Task("approve")
	assert.Equal(t, 900, p.TimeoutSec(approve))

	require.NoError(t, Validate(p))
}

func TestParseManifest_UnknownField(t *testing.T) {
	_, err := ParseManifest([]byte("name: x\ntasks:\n  - name: a\n    comand: true\n"))
	require.ErrorIs(t, err, ErrManifest)
}

func TestParseManifest_Empty(t *testing.T) {
	_, err := ParseManifest(nil)
	require.ErrorIs(t, err, ErrManifest)
}

func TestLoadManifestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(releaseManifest), 0o644))

	p, err := LoadManifestFile(path)
	require.NoError(t, err)
	assert.Equal(t, "release", p.Name)

	_, err = LoadManifestFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestManifestFromPipeline_RoundTrip(t *testing.T) {
	p, err := ParseManifest([]byte(releaseManifest))
	require.NoError(t, err)

	data, err := yaml.Marshal(ManifestFromPipeline(p))
	require.NoError(t, err)

	again, err := ParseManifest(data)
	require.NoError(t, err)
	assert.Equal(t, p.Tasks, again.Tasks)
	assert.Equal(t, p.Params, again.Params)
}
