package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/okxsim/internal/domain"
	"github.com/alanyoungcy/okxsim/internal/service"
)

// BookHandler serves the current book view.
type BookHandler struct {
	svc    *service.OrderBookService
	logger *slog.Logger
}

// NewBookHandler creates a BookHandler.
func NewBookHandler(svc *service.OrderBookService, logger *slog.Logger) *BookHandler {
	return &BookHandler{svc: svc, logger: logHandler(logger, "book")}
}

// GetBook returns the full current snapshot view.
// GET /api/book
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	view, ok := h.svc.View()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "book not synced yet")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetDepth returns the top N levels of one or both sides.
// GET /api/book/depth?levels=10&side=bid
func (h *BookHandler) GetDepth(w http.ResponseWriter, r *http.Request) {
	view, ok := h.svc.View()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "book not synced yet")
		return
	}

	levels := 10
	if v := r.URL.Query().Get("levels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "levels must be a positive integer")
			return
		}
		levels = n
	}

	resp := map[string]any{
		"inst_id":   view.InstID,
		"sequence":  view.Sequence,
		"epoch":     view.Epoch,
		"timestamp": view.Timestamp,
	}

	side := r.URL.Query().Get("side")
	switch side {
	case "bid":
		resp["bids"] = topLevels(view.Bids, levels)
	case "ask":
		resp["asks"] = topLevels(view.Asks, levels)
	case "":
		resp["bids"] = topLevels(view.Bids, levels)
		resp["asks"] = topLevels(view.Asks, levels)
	default:
		writeError(w, http.StatusBadRequest, "side must be \"bid\" or \"ask\"")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func topLevels(levels []domain.PriceLevel, n int) []domain.PriceLevel {
	if n > len(levels) {
		n = len(levels)
	}
	return levels[:n]
}
