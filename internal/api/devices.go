package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/riotcore/riot/internal/auth"
	"github.com/riotcore/riot/internal/device"
)

type deviceRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	DType       uint32  `json:"dtype"`
	Topic       string  `json:"topic"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// handleCreateDevice registers a device under the caller's account.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(r.Context())
	if !ok {
		s.logger.Error("device handler reached without gate")
		writeInternalError(w, "internal server error")
		return
	}

	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Topic = strings.Trim(strings.TrimSpace(req.Topic), "/")
	if req.Name == "" || req.Topic == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "name and topic required")
		return
	}

	d := &device.Device{
		UID:         user.ID,
		Name:        req.Name,
		Description: req.Description,
		DType:       req.DType,
		Topic:       req.Topic,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Activated:   true,
	}
	if err := s.devices.Create(r.Context(), d); err != nil {
		if errors.Is(err, device.ErrExists) {
			writeError(w, http.StatusConflict, ErrCodeConflict, "topic already in use")
			return
		}
		s.logger.Error("creating device", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, d)
}

// handleListDevices lists the caller's devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(r.Context())
	if !ok {
		s.logger.Error("device handler reached without gate")
		writeInternalError(w, "internal server error")
		return
	}

	list, err := s.devices.List(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("listing devices", "error", err)
		writeInternalError(w, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleGetDevice returns one of the caller's devices. A foreign
// device answers 404 exactly like a missing one.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	user, id, ok := s.deviceScope(w, r)
	if !ok {
		return
	}

	d, err := s.devices.Get(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("getting device", "error", err)
		writeInternalError(w, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleUpdateDevice applies a partial update.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	user, id, ok := s.deviceScope(w, r)
	if !ok {
		return
	}

	var req struct {
		Name        *string  `json:"name"`
		Description *string  `json:"description"`
		DType       *uint32  `json:"dtype"`
		Topic       *string  `json:"topic"`
		Latitude    *float64 `json:"latitude"`
		Longitude   *float64 `json:"longitude"`
		Activated   *bool    `json:"activated"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	if req.Topic != nil {
		topic := strings.Trim(strings.TrimSpace(*req.Topic), "/")
		if topic == "" {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "topic cannot be empty")
			return
		}
		req.Topic = &topic
	}

	upd := device.Update{
		Name:        req.Name,
		Description: req.Description,
		DType:       req.DType,
		Topic:       req.Topic,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Activated:   req.Activated,
	}

	err := s.devices.Update(r.Context(), user.ID, id, upd)
	switch {
	case errors.Is(err, device.ErrNotFound):
		writeNotFound(w, "device not found")
		return
	case errors.Is(err, device.ErrExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "topic already in use")
		return
	case err != nil:
		s.logger.Error("updating device", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	d, err := s.devices.Get(r.Context(), user.ID, id)
	if err != nil {
		s.logger.Error("reloading device", "error", err)
		writeInternalError(w, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDevice soft-deletes: the device stops ingesting but its
// records stay queryable.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	user, id, ok := s.deviceScope(w, r)
	if !ok {
		return
	}

	if err := s.devices.Deactivate(r.Context(), user.ID, id); err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("deactivating device", "error", err)
		writeInternalError(w, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deactivated"})
}

// handleListRecords returns a device's recent records, newest first.
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	user, id, ok := s.deviceScope(w, r)
	if !ok {
		return
	}

	// Ownership check before touching records.
	if _, err := s.devices.Get(r.Context(), user.ID, id); err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("getting device", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit")) //nolint:errcheck // 0 falls back to default
	records, err := s.records.ListByDevice(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("listing records", "error", err)
		writeInternalError(w, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type insertRecordRequest struct {
	Payload   string     `json:"payload"`
	Timestamp *time.Time `json:"timestamp"`
}

// handleInsertRecord stores a record over HTTP. Unlike the ingestion
// path, an authenticated owner may supply their own timestamp.
func (s *Server) handleInsertRecord(w http.ResponseWriter, r *http.Request) {
	user, id, ok := s.deviceScope(w, r)
	if !ok {
		return
	}

	d, err := s.devices.Get(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("getting device", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	var req insertRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	rec := &device.Record{DID: d.ID, Payload: []byte(req.Payload)}
	if req.Timestamp != nil {
		rec.Timestamp = req.Timestamp.UTC()
	}
	if err := s.records.Insert(r.Context(), rec); err != nil {
		s.logger.Error("inserting record", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	if err := s.devices.TouchLastUpdate(r.Context(), d.ID, rec.Timestamp); err != nil {
		s.logger.Warn("touching device", "device_id", d.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, rec)
}

// deviceScope pulls the gated user and the {id} URL parameter.
func (s *Server) deviceScope(w http.ResponseWriter, r *http.Request) (user *auth.User, id uint64, ok bool) {
	u, found := mustUser(r.Context())
	if !found {
		s.logger.Error("device handler reached without gate")
		writeInternalError(w, "internal server error")
		return nil, 0, false
	}

	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid id")
		return nil, 0, false
	}
	return u, id, true
}
