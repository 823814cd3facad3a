package server

import (
	"log/slog"
	"math"
	"net/http"

	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/types"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := s.getUserID(r)
	writeJSON(w, http.StatusOK, s.cfg.Settings(ctx, s.db, userID))
}

func validNumber(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// handleUpdateSettings stores the user's overrides. Zero values fall back to
// the process defaults when read.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := s.getUserID(r)

	var req types.Settings
	if err := decodeBody(w, r, &req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode settings", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if !validNumber(req.PricePerKWh) {
		writeJSONError(w, "price per kWh cannot be negative", http.StatusBadRequest)
		return
	}
	if !validNumber(req.CO2FactorPerKWh) {
		writeJSONError(w, "CO2 factor cannot be negative", http.StatusBadRequest)
		return
	}
	if req.ResetPolicy != "" && !req.ResetPolicy.Valid() {
		writeJSONError(w, "unknown reset policy", http.StatusBadRequest)
		return
	}
	if math.IsNaN(req.DailyAlertKWh) || math.IsInf(req.DailyAlertKWh, 0) {
		writeJSONError(w, "daily alert must be a number", http.StatusBadRequest)
		return
	}

	if err := s.db.SetSettings(ctx, userID, req, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save settings", slog.Any("error", err))
		writeJSONError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, req.Resolve(s.cfg.Defaults))
}
