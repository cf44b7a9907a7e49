package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gsPatrick/bot-medico-api/internal/models"
	"github.com/gsPatrick/bot-medico-api/internal/twiliowhatsapp"
	"github.com/gsPatrick/bot-medico-api/internal/whatsapp"
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = fmt.Errorf("messaging service has been stopped")

// TwilioService implements the Service interface using the Twilio API.
// Twilio's Go SDK has no interactive message support, so choice prompts are
// rendered as numbered text, and inbound messages arrive over a webhook
// rather than a live socket.
type TwilioService struct {
	client  twiliowhatsapp.TwilioWhatsAppSender
	events  chan models.InboundEvent
	done    chan struct{}
	mu      sync.RWMutex
	stopped bool
}

// NewTwilioService creates a new TwilioService wrapping the given sender.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender) *TwilioService {
	return &TwilioService{
		client: client,
		events: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:   make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start is a no-op for Twilio (inbound arrives via webhook).
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.events)
	}()

	return nil
}

// SendText sends a message via Twilio and returns the message SID.
func (s *TwilioService) SendText(ctx context.Context, to string, body string) (string, error) {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return "", ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendText validation error", "error", err, "to", to)
		return "", err
	}

	sid, err := s.client.SendText(ctx, canonicalTo, body)
	if err != nil {
		return "", err
	}
	slog.Debug("TwilioService message sent", "to", canonicalTo, "sid", sid)
	return sid, nil
}

// SendChoicePrompt degrades the prompt to a single numbered text message.
func (s *TwilioService) SendChoicePrompt(ctx context.Context, to string, p ChoicePrompt) ([]string, error) {
	if len(p.Choices) == 0 {
		return nil, fmt.Errorf("choice prompt requires at least one choice")
	}
	var b strings.Builder
	b.WriteString(p.Body)
	for i, ch := range p.Choices {
		fmt.Fprintf(&b, "\n%d. %s", i+1, ch.Label)
	}
	sid, err := s.SendText(ctx, to, b.String())
	if err != nil {
		return nil, err
	}
	return []string{sid}, nil
}

// WasSentBySelf always reports false: Twilio does not echo the bot's own
// messages back through the webhook.
func (s *TwilioService) WasSentBySelf(providerMessageID string) bool {
	return false
}

// Events returns the channel of inbound conversation events.
func (s *TwilioService) Events() <-chan models.InboundEvent {
	return s.events
}

// WebhookHandler handles inbound Twilio webhook requests. It parses incoming
// messages and emits them as InboundEvents.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Info("Twilio webhook received")

	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := strings.TrimPrefix(r.FormValue("From"), "whatsapp:")
	body := r.FormValue("Body")
	messageSID := r.FormValue("MessageSid")

	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from", from)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	canonicalFrom, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("Twilio webhook invalid sender", "from", from, "error", err)
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	slog.Info("Inbound WhatsApp message from Twilio", "from", canonicalFrom)

	event := models.InboundEvent{
		From:      canonicalFrom,
		Text:      body,
		MessageID: messageSID,
		Timestamp: time.Now().Unix(),
	}

	s.safeEmitEvent(event)

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// safeEmitEvent safely pushes events into the event channel.
func (s *TwilioService) safeEmitEvent(event models.InboundEvent) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService dropping inbound event (service stopped)", "from", event.From)
		return
	}

	select {
	case s.events <- event:
		slog.Debug("TwilioService emitted inbound event", "from", event.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService event channel blocked, dropping message", "from", event.From)
	}
}

// compile-time interface checks
var (
	_ Service         = (*TwilioService)(nil)
	_ Service         = (*WhatsAppService)(nil)
	_ whatsapp.Sender = (*whatsapp.Client)(nil)
	_ whatsapp.Sender = (*whatsapp.MockClient)(nil)
)
