package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gsPatrick/bot-medico-api/internal/models"
)

func (s *Server) listContactsHandler(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	slog.Debug("Server.listContactsHandler: processing request", "status", status)
	if status != "" && !models.IsValidContactStatus(models.ContactStatus(status)) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid contact status"))
		return
	}
	contacts, err := s.st.ListContacts(status)
	if err != nil {
		slog.Error("Server.listContactsHandler: failed to list contacts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list contacts"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(contacts))
}

// lookupContact canonicalizes the path phone and loads the contact. A nil
// contact with a true ok means "valid phone, no record".
func (s *Server) lookupContact(w http.ResponseWriter, r *http.Request) (*models.Contact, string, bool) {
	phone, err := s.msgService.ValidateAndCanonicalizeRecipient(r.PathValue("phone"))
	if err != nil {
		slog.Warn("Server.lookupContact: invalid phone", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return nil, "", false
	}
	contact, err := s.st.GetContact(phone)
	if err != nil {
		slog.Error("Server.lookupContact: failed to get contact", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get contact"))
		return nil, "", false
	}
	return contact, phone, true
}

func (s *Server) getContactHandler(w http.ResponseWriter, r *http.Request) {
	contact, _, ok := s.lookupContact(w, r)
	if !ok {
		return
	}
	if contact == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Contact not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(contact))
}

func (s *Server) updateContactHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	contact, phone, ok := s.lookupContact(w, r)
	if !ok {
		return
	}
	if contact == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Contact not found"))
		return
	}
	var req struct {
		Name   *string `json:"name"`
		Status *string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.updateContactHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Name != nil {
		contact.Name = *req.Name
	}
	if req.Status != nil {
		status := models.ContactStatus(*req.Status)
		if !models.IsValidContactStatus(status) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid contact status"))
			return
		}
		contact.Status = status
	}
	if err := s.st.SaveContact(*contact); err != nil {
		slog.Error("Server.updateContactHandler: failed to save contact", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save contact"))
		return
	}
	slog.Info("Server.updateContactHandler: contact updated", "phone", phone)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Contact updated", contact))
}

func (s *Server) contactMessagesHandler(w http.ResponseWriter, r *http.Request) {
	contact, phone, ok := s.lookupContact(w, r)
	if !ok {
		return
	}
	if contact == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Contact not found"))
		return
	}
	messages, err := s.st.ListMessages(phone)
	if err != nil {
		slog.Error("Server.contactMessagesHandler: failed to list messages", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list messages"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(messages))
}

// manualSendHandler sends an operator-authored message to a contact. Sending
// manually means a human is attending, so the conversation is handed over
// before the message goes out.
func (s *Server) manualSendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	contact, phone, ok := s.lookupContact(w, r)
	if !ok {
		return
	}
	_ = contact // manual send may target a fresh address
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.manualSendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Message == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyMessageBody.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultSendTimeout)
	defer cancel()

	if err := s.engine.MarkHumanTakeover(ctx, phone); err != nil {
		slog.Error("Server.manualSendHandler: takeover failed", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to take over conversation"))
		return
	}
	providerID, err := s.msgService.SendText(ctx, phone, req.Message)
	if err != nil {
		slog.Error("Server.manualSendHandler: failed to send message", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}
	if err := s.st.AddMessage(models.Message{
		ContactPhone:      phone,
		Direction:         models.DirectionOut,
		Content:           req.Message,
		Type:              models.MessageTypeText,
		ProviderMessageID: providerID,
		Metadata:          map[string]string{"source": "operator"},
	}); err != nil {
		slog.Warn("Server.manualSendHandler: failed to audit message", "error", err, "phone", phone)
	}
	slog.Info("Server.manualSendHandler: manual message sent", "phone", phone)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent", nil))
}

// reactivateContactHandler returns a conversation to the bot. The node is
// cleared so the next inbound message starts a fresh session; collected
// variables and tags are kept.
func (s *Server) reactivateContactHandler(w http.ResponseWriter, r *http.Request) {
	contact, phone, ok := s.lookupContact(w, r)
	if !ok {
		return
	}
	if contact == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Contact not found"))
		return
	}
	contact.Status = models.ContactStatusBot
	contact.CurrentFlowID = ""
	contact.CurrentNodeID = ""
	contact.LastInteractionAt = time.Now()
	if err := s.st.SaveContact(*contact); err != nil {
		slog.Error("Server.reactivateContactHandler: failed to save contact", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save contact"))
		return
	}
	slog.Info("Server.reactivateContactHandler: contact reactivated", "phone", phone)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Contact reactivated", contact))
}

func (s *Server) resetContactsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.resetContactsHandler: processing request")
	if err := s.st.ResetAllContacts(); err != nil {
		slog.Error("Server.resetContactsHandler: failed to reset contacts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset contacts"))
		return
	}
	slog.Info("Server.resetContactsHandler: all contacts reset")
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("All contacts reset", nil))
}
