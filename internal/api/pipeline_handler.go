package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// maxManifestSize — ограничение размера тела запроса с манифестом.
const maxManifestSize = 1 << 20

// ListPipelines возвращает последние версии всех pipelines.
// GET /api/v1/pipelines
func (h *Handler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := h.pipelines.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]PipelineResponse, len(pipelines))
	for i, p := range pipelines {
		result[i] = PipelineFromDomain(p, nil)
	}

	List(w, result, len(result))
}

// RegisterPipeline регистрирует новую версию pipeline.
// POST /api/v1/pipelines
//
// Тело — манифест в YAML или JSON. Pipeline с любой ошибкой
// валидации не сохраняется.
func (h *Handler) RegisterPipeline(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxManifestSize))
	if err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	p, err := engine.ParseManifest(data)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}
	if err := engine.Validate(p); HandleRepoError(w, h.logger, err, "") {
		return
	}

	if err := h.pipelines.Register(r.Context(), p); HandleRepoError(w, h.logger, err, "") {
		return
	}

	h.logger.Info("pipeline registered", "pipeline", p.Name, "version", p.Version)
	Created(w, h.pipelineResponse(p))
}

// GetPipeline возвращает последнюю версию pipeline.
// GET /api/v1/pipelines/{name}
func (h *Handler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	p, err := h.pipelines.GetLatest(r.Context(), r.PathValue("name"))
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	Success(w, h.pipelineResponse(p))
}

// DeletePipeline удаляет pipeline со всеми версиями.
// DELETE /api/v1/pipelines/{name}
func (h *Handler) DeletePipeline(w http.ResponseWriter, r *http.Request) {
	err := h.pipelines.Delete(r.Context(), r.PathValue("name"))
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	NoContent(w)
}

// ListPipelineVersions возвращает все версии pipeline.
// GET /api/v1/pipelines/{name}/versions
func (h *Handler) ListPipelineVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.pipelines.ListVersions(r.Context(), r.PathValue("name"))
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}
	if len(versions) == 0 {
		NotFound(w, "pipeline not found")
		return
	}

	result := make([]PipelineResponse, len(versions))
	for i, p := range versions {
		result[i] = PipelineFromDomain(p, nil)
	}

	List(w, result, len(result))
}

// GetPipelineVersion возвращает конкретную версию pipeline.
// GET /api/v1/pipelines/{name}/versions/{version}
func (h *Handler) GetPipelineVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version < 1 {
		BadRequest(w, "invalid version")
		return
	}

	p, err := h.pipelines.GetVersion(r.Context(), r.PathValue("name"), version)
	if HandleRepoError(w, h.logger, err, "pipeline version not found") {
		return
	}

	Success(w, h.pipelineResponse(p))
}

// pipelineResponse добавляет к pipeline разбиение на tiers.
func (h *Handler) pipelineResponse(p *domain.Pipeline) PipelineResponse {
	var tiers [][]string
	if dag, err := engine.BuildDAG(p.Tasks); err == nil {
		tiers = dag.Tiers()
	}
	return PipelineFromDomain(*p, tiers)
}
