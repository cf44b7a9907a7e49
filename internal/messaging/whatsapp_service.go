package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gsPatrick/bot-medico-api/internal/models"
	"github.com/gsPatrick/bot-medico-api/internal/whatsapp"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Constants for WhatsAppService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound event channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// MaxReplyButtons is the WhatsApp cap on reply buttons per message
	MaxReplyButtons = 3
	// MaxListRows is the WhatsApp cap on rows in a single-select list
	MaxListRows = 10
	// ContinuationPromptBody introduces follow-up button batches when an
	// option set spans several messages.
	ContinuationPromptBody = "Mais opções:"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // access to underlying client for event handling
	sent     *whatsapp.SentCache
	events   chan models.InboundEvent
	done     chan struct{}
	mu       sync.RWMutex
	stopped  bool
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client: client,
		sent:   whatsapp.NewSentCache(whatsapp.DefaultSentCacheTTL),
		events: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:   make(chan struct{}),
	}

	// If the client is a full Client (not just an interface), store it for event handling
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient normalizes a phone number for WhatsApp delivery.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start begins background processing (e.g., event polling).
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")

	if s.waClient != nil {
		slog.Debug("WhatsAppService starting event handler")
		go s.handleEvents(ctx)
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}

	return nil
}

// Stop stops background processing. Safe to call multiple times. The event
// channel closes on a short delay because the whatsmeow callback may still
// hold an event it is about to emit.
func (s *WhatsAppService) Stop() error {
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

	slog.Info("WhatsAppService stopped")
	return nil
}

// SendText sends a text message and records its id for echo detection.
func (s *WhatsAppService) SendText(ctx context.Context, to string, body string) (string, error) {
	slog.Debug("WhatsAppService SendText invoked", "to", to, "body_length", len(body))
	id, err := s.client.SendText(ctx, jidUser(to), body)
	if err != nil {
		slog.Error("WhatsAppService SendText error", "error", err, "to", to)
		return "", err
	}
	s.sent.Add(id)
	slog.Info("WhatsAppService message sent", "to", to, "messageID", id)
	return id, nil
}

// SendChoicePrompt sends a closed question. Up to MaxReplyButtons choices go
// out as a single button message; larger sets go out as a list when requested
// and within the row cap, otherwise as batches of button messages with the
// question body on the first batch only.
func (s *WhatsAppService) SendChoicePrompt(ctx context.Context, to string, p ChoicePrompt) ([]string, error) {
	if len(p.Choices) == 0 {
		return nil, fmt.Errorf("choice prompt requires at least one choice")
	}
	user := jidUser(to)
	slog.Debug("WhatsAppService SendChoicePrompt invoked", "to", to, "choices", len(p.Choices), "asList", p.AsList)

	if len(p.Choices) <= MaxReplyButtons {
		id, err := s.sendButtonsWithFallback(ctx, user, p.Body, p.Footer, p.Choices)
		if err != nil {
			slog.Error("WhatsAppService SendChoicePrompt button error", "error", err, "to", to)
			return nil, err
		}
		s.sent.Add(id)
		return []string{id}, nil
	}

	if p.AsList && len(p.Choices) <= MaxListRows {
		id, err := s.client.SendList(ctx, user, p.Body, p.Title, p.Footer, p.Choices)
		if err != nil {
			slog.Warn("WhatsAppService list send failed, degrading to text", "error", err, "to", to)
			id, err = s.client.SendText(ctx, user, whatsapp.NumberedPrompt(p.Body, p.Choices))
			if err != nil {
				slog.Error("WhatsAppService SendChoicePrompt list fallback error", "error", err, "to", to)
				return nil, err
			}
		}
		s.sent.Add(id)
		return []string{id}, nil
	}

	// Batch into button messages of MaxReplyButtons each.
	var ids []string
	for start := 0; start < len(p.Choices); start += MaxReplyButtons {
		end := start + MaxReplyButtons
		if end > len(p.Choices) {
			end = len(p.Choices)
		}
		body := p.Body
		if start > 0 {
			body = ContinuationPromptBody
		}
		// Footer rides on the final batch only.
		footer := ""
		if end == len(p.Choices) {
			footer = p.Footer
		}
		id, err := s.sendButtonsWithFallback(ctx, user, body, footer, p.Choices[start:end])
		if err != nil {
			slog.Error("WhatsAppService SendChoicePrompt batch error", "error", err, "to", to, "batch_start", start)
			return ids, err
		}
		s.sent.Add(id)
		ids = append(ids, id)
	}
	slog.Debug("WhatsAppService choice prompt batched", "to", to, "batches", len(ids))
	return ids, nil
}

// sendButtonsWithFallback tries the rich button send and degrades to a
// numbered text rendering when the server rejects it. Some clients and some
// server states refuse ButtonsMessage payloads; the prompt content must
// still reach the participant.
func (s *WhatsAppService) sendButtonsWithFallback(ctx context.Context, user, body, footer string, choices []whatsapp.Choice) (string, error) {
	id, err := s.client.SendButtons(ctx, user, body, footer, choices)
	if err == nil {
		return id, nil
	}
	slog.Warn("WhatsAppService button send failed, degrading to text", "error", err, "to", user)
	return s.client.SendText(ctx, user, whatsapp.NumberedPrompt(body, choices))
}

// WasSentBySelf reports whether the message id belongs to a recent send.
func (s *WhatsAppService) WasSentBySelf(providerMessageID string) bool {
	return s.sent.Contains(providerMessageID)
}

// Events returns the channel of inbound conversation events.
func (s *WhatsAppService) Events() <-chan models.InboundEvent {
	return s.events
}

// handleEvents processes WhatsApp events and feeds them into the event channel
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	slog.Debug("WhatsAppService handleEvents starting")

	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		default:
			// Ignore other event types
		}
	})

	slog.Debug("WhatsAppService event handler registered")

	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage parses an incoming message event into an InboundEvent.
//
// Group messages are ignored entirely. Messages from the bot's own number are
// forwarded with IsFromSelf set; the dispatcher separates echoes of our own
// sends (via WasSentBySelf) from messages typed by a human operator on the
// business phone, which make the engine hand the conversation over.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}
	if evt.Info.Chat.Server == types.GroupServer {
		slog.Debug("WhatsAppService ignoring group message", "chat", evt.Info.Chat.String())
		return
	}

	messageID := string(evt.Info.ID)

	event := models.InboundEvent{
		IsFromSelf: evt.Info.IsFromMe,
		MessageID:  messageID,
		Timestamp:  evt.Info.Timestamp.Unix(),
	}

	// For operator messages the conversation partner is the chat, not the sender.
	if evt.Info.IsFromMe {
		event.From = canonicalJID(evt.Info.Chat)
	} else {
		event.From = canonicalJID(evt.Info.Sender)
	}

	switch {
	case evt.Message.GetButtonsResponseMessage() != nil:
		resp := evt.Message.GetButtonsResponseMessage()
		event.SelectedOptionID = resp.GetSelectedButtonID()
		event.SelectedText = resp.GetSelectedDisplayText()
	case evt.Message.GetListResponseMessage() != nil:
		resp := evt.Message.GetListResponseMessage()
		event.SelectedOptionID = resp.GetSingleSelectReply().GetSelectedRowID()
		event.SelectedText = resp.GetTitle()
	case evt.Message.GetConversation() != "":
		event.Text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage().GetText() != "":
		event.Text = evt.Message.GetExtendedTextMessage().GetText()
	default:
		// Skip non-text messages (images, audio, etc.)
		slog.Debug("WhatsAppService ignoring non-text message", "from", event.From)
		return
	}

	slog.Debug("WhatsAppService processing incoming message",
		"from", event.From, "fromSelf", event.IsFromSelf, "hasSelection", event.HasSelection())

	s.safeEmitEvent(event)
}

// safeEmitEvent pushes an event into the channel unless the service has
// stopped. The stopped check pairs with the delayed close in Stop so the
// whatsmeow callback never sends on a closed channel.
func (s *WhatsAppService) safeEmitEvent(event models.InboundEvent) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("WhatsAppService dropping inbound event (service stopped)", "from", event.From)
		return
	}

	select {
	case s.events <- event:
		slog.Info("WhatsAppService incoming event forwarded", "from", event.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService event channel blocked, dropping event", "from", event.From, "timeout", DefaultChannelTimeout)
	}
}

// jidUser strips the leading plus for whatsmeow, which addresses users by
// bare number.
func jidUser(phone string) string {
	return strings.TrimPrefix(phone, "+")
}

// canonicalJID converts a whatsmeow JID to the +digits form used as the
// contact primary key.
func canonicalJID(jid types.JID) string {
	user := jid.User
	if !strings.HasPrefix(user, "+") {
		user = "+" + user
	}
	return user
}
