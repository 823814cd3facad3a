package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/wattlog/wattlog/pkg/goals"
	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/monitor"
	"github.com/wattlog/wattlog/pkg/types"
)

type goalsResponse struct {
	Goals []monitor.GoalStatus `json:"goals"`
}

// handleListGoals evaluates the goals against live consumption, which also
// sends any warning that is due.
func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := s.getUserID(r)

	status, err := s.monitor.Evaluate(ctx, userID)
	if err != nil {
		if status.Results == nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to evaluate goals", slog.Any("error", err))
			writeJSONError(w, "failed to list goals", http.StatusInternalServerError)
			return
		}
		// the progress is still valid when persisting a goal failed
		log.Ctx(ctx).WarnContext(ctx, "goal evaluation partially failed", slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, goalsResponse{Goals: status.Goals})
}

type archivedGoalsResponse struct {
	Goals []types.Goal `json:"goals"`
}

func (s *Server) handleListArchivedGoals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := s.getUserID(r)

	archived, err := s.db.ReadArchivedGoals(ctx, userID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to read archived goals", slog.Any("error", err))
		writeJSONError(w, "failed to list archived goals", http.StatusInternalServerError)
		return
	}
	resp := archivedGoalsResponse{Goals: make([]types.Goal, 0, len(archived))}
	for _, g := range archived {
		resp.Goals = append(resp.Goals, g)
	}
	sort.Slice(resp.Goals, func(i, j int) bool {
		return resp.Goals[i].CreatedAt.After(resp.Goals[j].CreatedAt)
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := s.getUserID(r)

	var req types.Goal
	if err := decodeBody(w, r, &req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode goal", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	g, err := s.tracker.Create(ctx, userID, req)
	if err != nil {
		if errors.Is(err, goals.ErrInvalidGoal) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to create goal", slog.Any("error", err))
		writeJSONError(w, "failed to create goal", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := s.getUserID(r)
	goalID := r.PathValue("id")

	if err := s.tracker.Delete(ctx, userID, goalID); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to delete goal", slog.String("goalID", goalID), slog.Any("error", err))
		writeJSONError(w, "failed to delete goal", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
