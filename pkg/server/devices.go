package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/registry"
	"github.com/wattlog/wattlog/pkg/types"
)

type devicesResponse struct {
	Devices []types.Device `json:"devices"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := s.getUserID(r)

	devices, err := s.registry.List(ctx, userID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list devices", slog.Any("error", err))
		writeJSONError(w, "failed to list devices", http.StatusInternalServerError)
		return
	}

	resp := devicesResponse{Devices: make([]types.Device, 0, len(devices))}
	for _, d := range devices {
		resp.Devices = append(resp.Devices, d)
	}
	sort.Slice(resp.Devices, func(i, j int) bool {
		a, b := resp.Devices[i], resp.Devices[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := s.getUserID(r)

	var req types.Device
	if err := decodeBody(w, r, &req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode device", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	d, err := s.registry.Add(ctx, userID, req)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidDevice) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to add device", slog.Any("error", err))
		writeJSONError(w, "failed to add device", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleEditDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := s.getUserID(r)
	deviceID := r.PathValue("id")

	var req types.Device
	if err := decodeBody(w, r, &req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode device", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	d, err := s.registry.Edit(ctx, userID, deviceID, req)
	switch {
	case errors.Is(err, registry.ErrInvalidDevice):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, registry.ErrDeviceNotFound):
		writeJSONError(w, "device not found", http.StatusNotFound)
	case err != nil:
		log.Ctx(ctx).ErrorContext(ctx, "failed to edit device", slog.String("deviceID", deviceID), slog.Any("error", err))
		writeJSONError(w, "failed to edit device", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, d)
	}
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := s.getUserID(r)
	deviceID := r.PathValue("id")

	if err := s.registry.Delete(ctx, userID, deviceID); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to delete device", slog.String("deviceID", deviceID), slog.Any("error", err))
		writeJSONError(w, "failed to delete device", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
