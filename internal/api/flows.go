package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gsPatrick/bot-medico-api/internal/models"
	"github.com/gsPatrick/bot-medico-api/internal/store"
)

func (s *Server) listFlowsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.listFlowsHandler: processing request")
	flows, err := s.st.ListFlows()
	if err != nil {
		slog.Error("Server.listFlowsHandler: failed to list flows", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list flows"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(flows))
}

func (s *Server) createFlowHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.createFlowHandler: processing request")
	var f models.Flow
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		slog.Warn("Server.createFlowHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := f.Validate(); err != nil {
		slog.Warn("Server.createFlowHandler: flow validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.st.SaveFlow(f); err != nil {
		slog.Error("Server.createFlowHandler: failed to save flow", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save flow"))
		return
	}
	slog.Info("Server.createFlowHandler: flow saved", "name", f.Name)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Flow saved", f))
}

func (s *Server) getFlowHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	slog.Debug("Server.getFlowHandler: processing request", "flowID", id)
	f, err := s.st.GetFlow(id)
	if err != nil {
		slog.Error("Server.getFlowHandler: failed to get flow", "error", err, "flowID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get flow"))
		return
	}
	if f == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(f))
}

func (s *Server) updateFlowHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	id := r.PathValue("id")
	slog.Debug("Server.updateFlowHandler: processing request", "flowID", id)
	existing, err := s.st.GetFlow(id)
	if err != nil {
		slog.Error("Server.updateFlowHandler: failed to get flow", "error", err, "flowID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get flow"))
		return
	}
	if existing == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
		return
	}
	var f models.Flow
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		slog.Warn("Server.updateFlowHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	f.ID = id
	f.CreatedAt = existing.CreatedAt
	if err := f.Validate(); err != nil {
		slog.Warn("Server.updateFlowHandler: flow validation failed", "error", err, "flowID", id)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.st.SaveFlow(f); err != nil {
		slog.Error("Server.updateFlowHandler: failed to save flow", "error", err, "flowID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save flow"))
		return
	}
	slog.Info("Server.updateFlowHandler: flow updated", "flowID", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow updated", f))
}

func (s *Server) deleteFlowHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	slog.Debug("Server.deleteFlowHandler: processing request", "flowID", id)
	err := s.st.DeleteFlow(id)
	switch {
	case errors.Is(err, store.ErrFlowNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
	case errors.Is(err, store.ErrFlowReferenced):
		slog.Warn("Server.deleteFlowHandler: flow still referenced by contacts", "flowID", id)
		writeJSONResponse(w, http.StatusConflict, models.Error("Flow is referenced by existing contacts"))
	case err != nil:
		slog.Error("Server.deleteFlowHandler: failed to delete flow", "error", err, "flowID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete flow"))
	default:
		slog.Info("Server.deleteFlowHandler: flow deleted", "flowID", id)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow deleted", nil))
	}
}

func (s *Server) activateFlowHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	slog.Debug("Server.activateFlowHandler: processing request", "flowID", id)
	err := s.st.ActivateFlow(id)
	switch {
	case errors.Is(err, store.ErrFlowNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
	case err != nil:
		slog.Error("Server.activateFlowHandler: failed to activate flow", "error", err, "flowID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to activate flow"))
	default:
		slog.Info("Server.activateFlowHandler: flow activated", "flowID", id)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow activated", nil))
	}
}
