package server

import (
	"log/slog"
	"net/http"

	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/rollover"
)

type rolloverResponse struct {
	RolledOver bool             `json:"rolledOver"`
	Action     *rollover.Action `json:"action,omitempty"`
}

// handleRollover runs the day change check for the caller, which is what the
// apps do when they come to the foreground.
func (s *Server) handleRollover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := s.getUserID(r)

	action, err := s.rollover.Process(ctx, userID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "rollover failed", slog.Any("error", err))
		writeJSONError(w, "rollover failed", http.StatusInternalServerError)
		return
	}
	if _, err := s.monitor.Evaluate(ctx, userID); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to evaluate after rollover", slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, rolloverResponse{
		RolledOver: action != nil,
		Action:     action,
	})
}
