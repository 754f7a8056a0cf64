package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/okxsim/internal/domain"
	"github.com/alanyoungcy/okxsim/internal/service"
)

// SimulateHandler serves cost-simulation requests and the persisted
// simulation history.
type SimulateHandler struct {
	svc    *service.OrderBookService
	store  domain.SimulationStore // nil when Postgres is disabled
	instID string
	logger *slog.Logger
}

// NewSimulateHandler creates a SimulateHandler. store may be nil, in which
// case the history endpoints report 503.
func NewSimulateHandler(svc *service.OrderBookService, store domain.SimulationStore, instID string, logger *slog.Logger) *SimulateHandler {
	return &SimulateHandler{
		svc:    svc,
		store:  store,
		instID: instID,
		logger: logHandler(logger, "simulate"),
	}
}

// Simulate prices a hypothetical order against the current book view.
// POST /api/simulate
func (h *SimulateHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var spec domain.OrderSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.svc.Simulate(r.Context(), spec)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidOrderSpec):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrNotSynced):
			writeError(w, http.StatusServiceUnavailable, "book not synced yet")
		case errors.Is(err, domain.ErrInsufficientLiquidity):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "simulate failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "simulation failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ListSimulations returns recent persisted simulations for the instrument.
// GET /api/simulations
func (h *SimulateHandler) ListSimulations(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "simulation history is disabled")
		return
	}

	results, err := h.store.ListRecent(r.Context(), h.instID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list simulations failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list simulations")
		return
	}
	if results == nil {
		results = []domain.SimulationResult{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"simulations": results,
		"count":       len(results),
	})
}

// GetSimulation returns one persisted simulation by ID.
// GET /api/simulations/{id}
func (h *SimulateHandler) GetSimulation(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "simulation history is disabled")
		return
	}

	id := pathParam(r, "id")
	res, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "simulation not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get simulation failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get simulation")
		return
	}

	writeJSON(w, http.StatusOK, res)
}
