package server

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/wattlog/wattlog/pkg/calc"
	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/types"
)

type archiveDay struct {
	Date string `json:"date"`
	types.ArchiveEntry
	// ConsumptionKWh is recomputed from the devices, rounded.
	ConsumptionKWh float64 `json:"consumptionKWh"`
}

type archiveResponse struct {
	Days []archiveDay `json:"days"`
}

// validPrefix accepts a year, a month or a full date key.
func validPrefix(prefix string) bool {
	if len(prefix) < 4 || len(prefix) > 8 {
		return false
	}
	for _, c := range prefix {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := s.getUserID(r)

	prefix := r.URL.Query().Get("prefix")
	if !validPrefix(prefix) {
		writeJSONError(w, "prefix must be 4 to 8 digits of a YYYYMMDD date key", http.StatusBadRequest)
		return
	}

	entries, err := s.db.ReadArchiveRange(ctx, userID, prefix)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to read archive", slog.String("prefix", prefix), slog.Any("error", err))
		writeJSONError(w, "failed to read archive", http.StatusInternalServerError)
		return
	}

	resp := archiveResponse{Days: make([]archiveDay, 0, len(entries))}
	for key, entry := range entries {
		resp.Days = append(resp.Days, archiveDay{
			Date:           key,
			ArchiveEntry:   entry,
			ConsumptionKWh: calc.Round2(calc.DevicesKWh(entry.Devices)),
		})
	}
	sort.Slice(resp.Days, func(i, j int) bool {
		return resp.Days[i].Date < resp.Days[j].Date
	})
	writeJSON(w, http.StatusOK, resp)
}
