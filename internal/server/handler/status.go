package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/okxsim/internal/domain"
	"github.com/alanyoungcy/okxsim/internal/service"
)

// StatusHandler serves the engine status (processor state, staleness, gap
// history) for dashboards.
type StatusHandler struct {
	svc       *service.OrderBookService
	gaps      domain.GapStore // nil when Postgres is disabled
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. gaps may be nil.
func NewStatusHandler(svc *service.OrderBookService, gaps domain.GapStore, mode string, startedAt time.Time, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		svc:       svc,
		gaps:      gaps,
		mode:      mode,
		startedAt: startedAt,
		logger:    logHandler(logger, "status"),
	}
}

// GetStatus responds with the current engine mode, book state, and staleness.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"book":           st,
	})
}

// ListGaps returns the recent sequence-gap audit trail.
// GET /api/gaps
func (h *StatusHandler) ListGaps(w http.ResponseWriter, r *http.Request) {
	if h.gaps == nil {
		writeError(w, http.StatusServiceUnavailable, "gap history is disabled")
		return
	}

	st := h.svc.Status()
	events, err := h.gaps.ListRecent(r.Context(), st.InstID, parseListOpts(r))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			events = nil
		} else {
			h.logger.ErrorContext(r.Context(), "list gaps failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list gap events")
			return
		}
	}
	if events == nil {
		events = []domain.GapEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"gaps":  events,
		"count": len(events),
	})
}
