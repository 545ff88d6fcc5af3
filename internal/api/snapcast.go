package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snapdog2/snapdog-core/internal/jsonrpc"
	"github.com/snapdog2/snapdog-core/internal/snapcast"
)

// volumeRequest is the body of PUT /snapcast/clients/{id}/volume.
// Percent and Muted are optional; at least one must be set.
type volumeRequest struct {
	Percent *int  `json:"percent"`
	Muted   *bool `json:"muted"`
}

// handleSnapcastStatus returns the full server status.
func (s *Server) handleSnapcastStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.GetStatus(r.Context())
	if err != nil {
		s.writeSnapcastError(w, "get status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleSnapcastStats returns the JSON-RPC client counters.
func (s *Server) handleSnapcastStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapcast.Stats())
}

// handleSnapcastVersion returns the server's control protocol version.
func (s *Server) handleSnapcastVersion(w http.ResponseWriter, r *http.Request) {
	version, err := s.service.GetRPCVersion(r.Context())
	if err != nil {
		s.writeSnapcastError(w, "get rpc version", err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

// handleGetClient returns one client and the group it belongs to.
func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := s.service.GetStatus(r.Context())
	if err != nil {
		s.writeSnapcastError(w, "get status", err)
		return
	}

	client, group, ok := status.FindClient(id)
	if !ok {
		writeNotFound(w, "client not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"client":   client,
		"group_id": group.ID,
	})
}

// handleDeleteClient removes a disconnected client from the server and
// returns the resulting server state.
func (s *Server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	server, err := s.service.DeleteClient(r.Context(), id)
	if err != nil {
		s.writeSnapcastError(w, "delete client", err)
		return
	}
	writeJSON(w, http.StatusOK, server)
}

// handleSetClientVolume changes a client's volume and/or mute state.
func (s *Server) handleSetClientVolume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Percent == nil && req.Muted == nil {
		writeBadRequest(w, "percent or muted is required")
		return
	}

	var (
		vol snapcast.Volume
		err error
	)
	if req.Percent != nil {
		vol, err = s.service.SetClientVolume(r.Context(), id, *req.Percent)
		if err != nil {
			s.writeSnapcastError(w, "set volume", err)
			return
		}
	}
	if req.Muted != nil {
		vol, err = s.service.SetClientMute(r.Context(), id, *req.Muted)
		if err != nil {
			s.writeSnapcastError(w, "set mute", err)
			return
		}
	}

	writeJSON(w, http.StatusOK, vol)
}

// writeSnapcastError maps a Snapcast request failure to an HTTP response.
func (s *Server) writeSnapcastError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, snapcast.ErrInvalidID),
		errors.Is(err, snapcast.ErrInvalidVolume),
		errors.Is(err, snapcast.ErrInvalidLatency):
		writeBadRequest(w, err.Error())
	case errors.Is(err, jsonrpc.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "snapcast request timed out")
	case errors.Is(err, jsonrpc.ErrConnection), errors.Is(err, jsonrpc.ErrConnectionLost):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "snapcast unavailable")
	case errors.Is(err, jsonrpc.ErrRemote):
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	default:
		s.logger.Error("snapcast request failed", "op", op, "error", err)
		writeInternalError(w, "snapcast request failed")
	}
}
