package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wattlog/wattlog/pkg/aggregate"
	"github.com/wattlog/wattlog/pkg/calc"
	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/metrics"
	"github.com/wattlog/wattlog/pkg/report"
	"github.com/wattlog/wattlog/pkg/types"
)

// compute aggregates period for the user with the user's rates. Store read
// failures are degraded to zero values by the aggregator.
func (s *Server) compute(ctx context.Context, userID string, period types.Period) (types.AggregationResult, error) {
	settings := s.cfg.Settings(ctx, s.db, userID)
	agg := s.agg.WithRates(calc.RatesFromSettings(settings))

	start := time.Now()
	res, err := agg.Compute(ctx, s.db, userID, period)
	if err != nil {
		metrics.ObserveAggregation(string(period), metrics.ResultError, time.Since(start))
		return types.AggregationResult{}, err
	}
	metrics.ObserveAggregation(string(period), metrics.ResultSuccess, time.Since(start))
	return aggregate.Present(res), nil
}

func periodParam(r *http.Request) (types.Period, error) {
	raw := r.URL.Query().Get("period")
	if raw == "" {
		return "", errors.New("period is required")
	}
	return types.ParsePeriod(raw)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := s.getUserID(r)

	period, err := periodParam(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.compute(ctx, userID, period)
	if err != nil {
		if errors.Is(err, aggregate.ErrInvalidPeriod) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to compute stats", slog.String("period", string(period)), slog.Any("error", err))
		writeJSONError(w, "failed to compute stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := s.getUserID(r)

	period, err := periodParam(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.compute(ctx, userID, period)
	if err != nil {
		if errors.Is(err, aggregate.ErrInvalidPeriod) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to compute stats for export", slog.String("period", string(period)), slog.Any("error", err))
		writeJSONError(w, "failed to compute stats", http.StatusInternalServerError)
		return
	}

	b, err := report.Build(format, res)
	if err != nil {
		metrics.IncExport(string(format), metrics.ResultError)
		log.Ctx(ctx).ErrorContext(ctx, "failed to build report", slog.String("format", string(format)), slog.Any("error", err))
		writeJSONError(w, "failed to build report", http.StatusInternalServerError)
		return
	}
	metrics.IncExport(string(format), metrics.ResultSuccess)

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(res, format)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(b); err != nil {
		panic(http.ErrAbortHandler)
	}
}
