// Package models defines the core data structures for the triage bot.
//
// It includes the conversation contact record, the audit message log entry,
// inbound channel events and notification recipients, which are shared
// across modules.
package models

import (
	"errors"
	"time"
)

// ContactStatus describes who is currently driving a conversation.
type ContactStatus string

const (
	// ContactStatusBot means the flow engine drives the conversation.
	ContactStatusBot ContactStatus = "BOT"
	// ContactStatusPending means the conversation awaits a human operator.
	ContactStatusPending ContactStatus = "PENDING"
	// ContactStatusHuman means a human is attending; the engine stays silent.
	ContactStatusHuman ContactStatus = "HUMAN"
	// ContactStatusFinished means the conversation completed normally.
	ContactStatusFinished ContactStatus = "FINISHED"
	// ContactStatusDisqualified means the conversation ended on a disqualify node.
	ContactStatusDisqualified ContactStatus = "DISQUALIFIED"
)

// IsValidContactStatus checks if the given contact status is supported.
func IsValidContactStatus(s ContactStatus) bool {
	switch s {
	case ContactStatusBot, ContactStatusPending, ContactStatusHuman, ContactStatusFinished, ContactStatusDisqualified:
		return true
	default:
		return false
	}
}

// Contact is the durable per-address conversation state. The phone number is
// the primary key; the engine is the only writer during automated flow.
type Contact struct {
	Phone             string            `json:"phone"`
	Name              string            `json:"name,omitempty"`
	CurrentFlowID     string            `json:"current_flow_id,omitempty"`
	CurrentNodeID     string            `json:"current_node_id,omitempty"`
	Status            ContactStatus     `json:"status"`
	Variables         map[string]string `json:"variables"`
	Tags              []string          `json:"tags"`
	LastInteractionAt time.Time         `json:"last_interaction_at"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// HasTag reports whether the contact already carries the given tag.
func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MergeTags adds the given tags to the contact, skipping duplicates.
func (c *Contact) MergeTags(tags []string) {
	for _, t := range tags {
		if !c.HasTag(t) {
			c.Tags = append(c.Tags, t)
		}
	}
}

// InFlow reports whether the contact is currently positioned inside a flow.
func (c *Contact) InFlow() bool {
	return c.CurrentFlowID != "" && c.CurrentNodeID != ""
}

// MessageDirection marks an audit record as inbound or outbound.
type MessageDirection string

const (
	// DirectionIn is a message received from the participant.
	DirectionIn MessageDirection = "in"
	// DirectionOut is a message sent by the bot.
	DirectionOut MessageDirection = "out"
)

// MessageType describes the shape of a logged message.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeButton MessageType = "button"
	MessageTypeList   MessageType = "list"
)

// Message is one append-only audit log entry. NodeID is empty when the
// message was not produced or consumed by a specific flow node (for example
// while a human is attending).
type Message struct {
	ID                string            `json:"id"`
	ContactPhone      string            `json:"contact_phone"`
	Direction         MessageDirection  `json:"direction"`
	Content           string            `json:"content"`
	Type              MessageType       `json:"type"`
	NodeID            string            `json:"node_id,omitempty"`
	ProviderMessageID string            `json:"provider_message_id,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// InboundEvent is one parsed event from the channel adapter. Exactly one of
// Text or SelectedOptionID carries the participant's contribution; a
// structured selection also carries SelectedText (the displayed label) for
// audit and label matching.
type InboundEvent struct {
	From             string `json:"from"`
	IsFromSelf       bool   `json:"is_from_self"`
	Text             string `json:"text,omitempty"`
	SelectedOptionID string `json:"selected_option_id,omitempty"`
	SelectedText     string `json:"selected_text,omitempty"`
	MessageID        string `json:"message_id,omitempty"`
	Timestamp        int64  `json:"timestamp"`
}

// HasSelection reports whether the event carries a structured selection
// (button or list click) rather than typed text.
func (e InboundEvent) HasSelection() bool {
	return e.SelectedOptionID != "" || e.SelectedText != ""
}

// Empty reports whether the event carries no processable content.
func (e InboundEvent) Empty() bool {
	return e.Text == "" && !e.HasSelection()
}

// NotificationRecipient is one configured handover notification target.
type NotificationRecipient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Error variables for request validation at the API boundary.
var (
	ErrEmptyRecipient       = errors.New("recipient cannot be empty")
	ErrEmptyMessageBody     = errors.New("message body cannot be empty")
	ErrEmptyRecipientName   = errors.New("recipient name cannot be empty")
	ErrInvalidContactStatus = errors.New("invalid contact status")
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse is the standard JSON envelope for every API endpoint.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
