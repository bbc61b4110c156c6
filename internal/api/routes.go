package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		RequestID(h.logger),
		Logging(),
		Recovery(),
	)

	// Pipelines
	mux.Handle("GET /api/v1/pipelines", chain(http.HandlerFunc(h.ListPipelines)))
	mux.Handle("POST /api/v1/pipelines", chain(http.HandlerFunc(h.RegisterPipeline)))
	mux.Handle("GET /api/v1/pipelines/{name}", chain(http.HandlerFunc(h.GetPipeline)))
	mux.Handle("DELETE /api/v1/pipelines/{name}", chain(http.HandlerFunc(h.DeletePipeline)))

	// Pipeline Versions
	mux.Handle("GET /api/v1/pipelines/{name}/versions", chain(http.HandlerFunc(h.ListPipelineVersions)))
	mux.Handle("GET /api/v1/pipelines/{name}/versions/{version}", chain(http.HandlerFunc(h.GetPipelineVersion)))

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/pipelines/{name}/runs", chain(http.HandlerFunc(h.CreateRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))
	mux.Handle("GET /api/v1/runs/{id}/tasks", chain(http.HandlerFunc(h.ListRunTasks)))
	mux.Handle("GET /api/v1/runs/{id}/tasks/{task}/log", chain(http.HandlerFunc(h.GetTaskLog)))

	// Gates
	mux.Handle("GET /api/v1/runs/{id}/gates", chain(http.HandlerFunc(h.ListGates)))
	mux.Handle("GET /api/v1/runs/{id}/gates/{name}", chain(http.HandlerFunc(h.GetGate)))
	mux.Handle("POST /api/v1/runs/{id}/gates/{name}/decision", chain(http.HandlerFunc(h.DecideGate)))

	// Schedules
	mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
	mux.Handle("POST /api/v1/pipelines/{name}/schedules", chain(http.HandlerFunc(h.CreateSchedule)))
	mux.Handle("GET /api/v1/schedules/{id}", chain(http.HandlerFunc(h.GetSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}", chain(http.HandlerFunc(h.UpdateSchedule)))
	mux.Handle("DELETE /api/v1/schedules/{id}", chain(http.HandlerFunc(h.DeleteSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}/enabled", chain(http.HandlerFunc(h.SetScheduleEnabled)))
}
