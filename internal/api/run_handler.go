package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/logstore"
	"github.com/shaiso/Conveyor/internal/repo"
)

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?pipeline=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{
		Pipeline: r.URL.Query().Get("pipeline"),
		Status:   domain.RunStatus(r.URL.Query().Get("status")),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	}

	runs, err := h.runs.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// CreateRun создаёт новый run pipeline.
// POST /api/v1/pipelines/{name}/runs
//
// Без version используется последняя версия. Повторный запрос
// с тем же idempotency_key возвращает уже созданный run.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}

	var (
		p   *domain.Pipeline
		err error
	)
	if req.Version != nil {
		p, err = h.pipelines.GetVersion(r.Context(), name, *req.Version)
	} else {
		p, err = h.pipelines.GetLatest(r.Context(), name)
	}
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	if req.IdempotencyKey != "" {
		existing, err := h.runs.GetByIdempotencyKey(r.Context(), name, req.IdempotencyKey)
		if err == nil {
			Success(w, RunFromDomain(*existing))
			return
		}
		if !errors.Is(err, repo.ErrNotFound) {
			InternalError(w, h.logger, err)
			return
		}
	}

	run := domain.NewRun(p, engine.MergeParams(req.Params), domain.TriggerAPI)
	run.IdempotencyKey = req.IdempotencyKey

	if err := h.runs.Create(r.Context(), run); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) && req.IdempotencyKey != "" {
			// Параллельный запрос с тем же ключом успел первым.
			existing, getErr := h.runs.GetByIdempotencyKey(r.Context(), name, req.IdempotencyKey)
			if getErr == nil {
				Success(w, RunFromDomain(*existing))
				return
			}
		}
		HandleRepoError(w, h.logger, err, "")
		return
	}

	if h.publisher != nil {
		if err := h.publisher.PublishRunPending(r.Context(), run.ID); err != nil {
			h.logger.Warn("failed to publish run.pending", "run_id", run.ID, "error", err)
		}
	}

	h.logger.Info("run created", "run_id", run.ID, "pipeline", p.Name, "version", p.Version)
	Created(w, RunFromDomain(*run))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// CancelRun запрашивает отмену run.
// POST /api/v1/runs/{id}/cancel
//
// PENDING run отменяется сразу. Для RUNNING run выставляется флаг,
// orchestrator останавливает его на ближайшей границе.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	run, err := h.runs.RequestCancel(r.Context(), id)
	if errors.Is(err, repo.ErrInvalidState) {
		InvalidState(w, "run is already finished")
		return
	}
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	if run.Status == domain.RunStatusRunning && h.publisher != nil {
		if err := h.publisher.PublishRunCancel(r.Context(), run.ID); err != nil {
			h.logger.Warn("failed to publish run.cancel", "run_id", run.ID, "error", err)
		}
	}

	Success(w, RunFromDomain(*run))
}

// ListRunTasks возвращает состояния задач run.
// GET /api/v1/runs/{id}/tasks
func (h *Handler) ListRunTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	names := run.TaskNames()
	result := make([]TaskResponse, len(names))
	for i, name := range names {
		result[i] = TaskFromDomain(run.Task(name))
	}

	List(w, result, len(result))
}

// GetTaskLog возвращает вывод задачи.
// GET /api/v1/runs/{id}/tasks/{task}/log
func (h *Handler) GetTaskLog(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	task := run.Task(r.PathValue("task"))
	if task == nil {
		NotFound(w, "task not found")
		return
	}
	if task.LogRef == "" || h.logs == nil {
		NotFound(w, "log not found")
		return
	}

	data, err := h.logs.Get(r.Context(), task.LogRef)
	if errors.Is(err, logstore.ErrNotFound) {
		NotFound(w, "log not found")
		return
	}
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// runID разбирает {id} из пути. При ошибке отвечает 400.
func (h *Handler) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return uuid.Nil, false
	}
	return id, true
}
