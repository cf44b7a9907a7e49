// Package messaging provides pluggable WhatsApp delivery backends and the
// inbound event dispatch loop for the triage bot.
package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/gsPatrick/bot-medico-api/internal/models"
	"github.com/gsPatrick/bot-medico-api/internal/whatsapp"
)

// ChoicePrompt is a question with a closed set of selectable options.
type ChoicePrompt struct {
	Body    string
	Title   string
	Footer  string
	Choices []whatsapp.Choice
	// AsList renders the prompt as a single-select list instead of reply
	// buttons when the backend supports it.
	AsList bool
}

// Service defines a pluggable message delivery abstraction.
// It supports sending messages and exposes a channel of inbound events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Returns the canonicalized recipient and an error if
	// validation fails. This allows each service to implement its own
	// recipient validation rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText sends a plain text message and returns its provider message id.
	SendText(ctx context.Context, to string, body string) (string, error)

	// SendChoicePrompt sends a question with selectable options. Backends may
	// split large option sets across several messages; the provider ids of
	// every message sent are returned in order.
	SendChoicePrompt(ctx context.Context, to string, p ChoicePrompt) ([]string, error)

	// WasSentBySelf reports whether the given provider message id belongs to a
	// message this service sent recently. Used to drop echoes of the bot's
	// own messages from the inbound event stream.
	WasSentBySelf(providerMessageID string) bool

	// Events returns the channel of inbound conversation events.
	Events() <-chan models.InboundEvent

	// Start begins any background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error
}

// canonicalizePhone normalizes a phone number to E.164-ish form: digits only
// with a leading plus. Formatting characters commonly pasted from address
// books are stripped.
func canonicalizePhone(recipient string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(recipient))
	cleaned = strings.TrimPrefix(cleaned, "+")
	if cleaned == "" {
		return "", models.ErrEmptyRecipient
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("recipient %q contains non-digit characters", recipient)
		}
	}
	if len(cleaned) < 8 || len(cleaned) > 15 {
		return "", fmt.Errorf("recipient %q has invalid length %d", recipient, len(cleaned))
	}
	return "+" + cleaned, nil
}
