package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/riotcore/riot/internal/auth"
	"github.com/riotcore/riot/internal/device"
)

type tagRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// handleCreateTag creates a tag under the caller's account.
func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(r.Context())
	if !ok {
		s.logger.Error("tag handler reached without gate")
		writeInternalError(w, "internal server error")
		return
	}

	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "name required")
		return
	}

	tag := &device.Tag{UID: user.ID, Name: req.Name, Description: req.Description}
	if err := s.tags.Create(r.Context(), tag); err != nil {
		s.logger.Error("creating tag", "error", err)
		writeInternalError(w, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

// handleListTags lists the caller's tags.
func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(r.Context())
	if !ok {
		s.logger.Error("tag handler reached without gate")
		writeInternalError(w, "internal server error")
		return
	}

	tags, err := s.tags.List(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("listing tags", "error", err)
		writeInternalError(w, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

// handleUpdateTag renames a tag or changes its description.
func (s *Server) handleUpdateTag(w http.ResponseWriter, r *http.Request) {
	user, id, ok := s.tagScope(w, r)
	if !ok {
		return
	}

	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	if err := s.tags.Update(r.Context(), user.ID, id, req.Name, req.Description); err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "tag not found")
			return
		}
		s.logger.Error("updating tag", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	tag, err := s.tags.Get(r.Context(), user.ID, id)
	if err != nil {
		s.logger.Error("reloading tag", "error", err)
		writeInternalError(w, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

// handleDeleteTag removes a tag and its assignments.
func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	user, id, ok := s.tagScope(w, r)
	if !ok {
		return
	}

	if err := s.tags.Delete(r.Context(), user.ID, id); err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "tag not found")
			return
		}
		s.logger.Error("deleting tag", "error", err)
		writeInternalError(w, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// handleTagDevice assigns a tag to a device.
func (s *Server) handleTagDevice(w http.ResponseWriter, r *http.Request) {
	s.assignTag(w, r, true)
}

// handleUntagDevice removes a tag from a device.
func (s *Server) handleUntagDevice(w http.ResponseWriter, r *http.Request) {
	s.assignTag(w, r, false)
}

func (s *Server) assignTag(w http.ResponseWriter, r *http.Request, assign bool) {
	user, tagID, ok := s.tagScope(w, r)
	if !ok {
		return
	}

	deviceID, err := strconv.ParseUint(chi.URLParam(r, "deviceID"), 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid device id")
		return
	}

	if assign {
		err = s.tags.Assign(r.Context(), user.ID, tagID, deviceID)
	} else {
		err = s.tags.Unassign(r.Context(), user.ID, tagID, deviceID)
	}

	switch {
	case errors.Is(err, device.ErrNotFound):
		writeNotFound(w, "not found")
	case errors.Is(err, device.ErrExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "already tagged")
	case err != nil:
		s.logger.Error("tag assignment", "error", err)
		writeInternalError(w, "internal server error")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

// handleTaggedDevices lists the devices carrying a tag.
func (s *Server) handleTaggedDevices(w http.ResponseWriter, r *http.Request) {
	user, id, ok := s.tagScope(w, r)
	if !ok {
		return
	}

	devices, err := s.tags.Devices(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "tag not found")
			return
		}
		s.logger.Error("listing tagged devices", "error", err)
		writeInternalError(w, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

// tagScope pulls the gated user and the {id} URL parameter.
func (s *Server) tagScope(w http.ResponseWriter, r *http.Request) (user *auth.User, id uint64, ok bool) {
	u, found := mustUser(r.Context())
	if !found {
		s.logger.Error("tag handler reached without gate")
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
