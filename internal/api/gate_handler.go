package api

import (
	"encoding/json"
	"net/http"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/gate"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// ListGates возвращает approval gates run.
// GET /api/v1/runs/{id}/gates
func (h *Handler) ListGates(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	gates, err := h.gates.List(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]GateResponse, len(gates))
	for i, g := range gates {
		result[i] = GateFromDomain(g)
	}

	List(w, result, len(result))
}

// GetGate возвращает gate.
// GET /api/v1/runs/{id}/gates/{name}
func (h *Handler) GetGate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	g, err := h.gates.Get(r.Context(), domain.GateKey{RunID: id, Name: r.PathValue("name")})
	if HandleRepoError(w, h.logger, err, "gate not found") {
		return
	}

	Success(w, GateFromDomain(g))
}

// DecideGate записывает решение оператора.
// POST /api/v1/runs/{id}/gates/{name}/decision
//
// Допустимы только "approved" и "rejected". Решение по закрытому gate — 422.
func (h *Handler) DecideGate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	var req DecideGateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	key := domain.GateKey{RunID: id, Name: r.PathValue("name")}
	g, err := gate.DecideString(r.Context(), h.gates, key, req.Decision, req.Actor)
	if HandleRepoError(w, h.logger, err, "gate not found") {
		return
	}

	telemetry.FromContext(r.Context()).Info("gate decided", "gate", key.String(), "status", g.Status, "actor", req.Actor)
	Success(w, GateFromDomain(g))
}
