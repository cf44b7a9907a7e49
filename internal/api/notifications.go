package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gsPatrick/bot-medico-api/internal/models"
)

func (s *Server) listRecipientsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.listRecipientsHandler: processing request")
	recipients, err := s.st.ListNotificationRecipients()
	if err != nil {
		slog.Error("Server.listRecipientsHandler: failed to list recipients", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list notification recipients"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(recipients))
}

func (s *Server) createRecipientHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.createRecipientHandler: processing request")
	var rec models.NotificationRecipient
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		slog.Warn("Server.createRecipientHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if rec.Name == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyRecipientName.Error()))
		return
	}
	phone, err := s.msgService.ValidateAndCanonicalizeRecipient(rec.Phone)
	if err != nil {
		slog.Warn("Server.createRecipientHandler: invalid phone", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	rec.Phone = phone
	if err := s.st.AddNotificationRecipient(rec); err != nil {
		slog.Error("Server.createRecipientHandler: failed to add recipient", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to add notification recipient"))
		return
	}
	slog.Info("Server.createRecipientHandler: recipient added", "name", rec.Name)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Notification recipient added", rec))
}

func (s *Server) deleteRecipientHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	slog.Debug("Server.deleteRecipientHandler: processing request", "id", id)
	if err := s.st.DeleteNotificationRecipient(id); err != nil {
		slog.Error("Server.deleteRecipientHandler: failed to delete recipient", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete notification recipient"))
		return
	}
	slog.Info("Server.deleteRecipientHandler: recipient deleted", "id", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Notification recipient deleted", nil))
}
