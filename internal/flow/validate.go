package flow

import (
	"strings"

	"github.com/gsPatrick/bot-medico-api/internal/models"
)

type outcomeKind int

const (
	// outcomeIgnored drops the event silently: no reply, no mutation.
	outcomeIgnored outcomeKind = iota
	// outcomeInvalid re-executes the current node (resends the prompt)
	// without mutating flow position.
	outcomeInvalid
	// outcomeValid proceeds with the declared transition.
	outcomeValid
)

// outcome is the result of validating an inbound event against a node.
type outcome struct {
	kind   outcomeKind
	saveAs string
	value  string
	next   string
}

// evaluateResponse validates an inbound event against the node the
// conversation is suspended on.
//
// Closed-choice questions accept only structured selections: typed free text
// is ignored, never matched against option labels, because an option click
// and a typed label are not equivalent on the channel and accepting both
// would let stale prompts be replayed against newer nodes. A structured
// selection that matches no option is equally ignored, since a stale click
// from an earlier prompt is indistinguishable from noise and must not
// recreate the prompt.
func evaluateResponse(node models.Node, event models.InboundEvent) outcome {
	switch node.Type {
	case models.NodeTypeMessage:
		// A message node never waits for input.
		return outcome{kind: outcomeValid, next: node.NextNode}

	case models.NodeTypeQuestion:
		if node.HasOptions() {
			if !event.HasSelection() {
				return outcome{kind: outcomeIgnored}
			}
			opt, ok := matchOption(node.Options, event)
			if !ok {
				return outcome{kind: outcomeIgnored}
			}
			saveAs := opt.SaveAs
			if saveAs == "" {
				saveAs = node.SaveAs
			}
			return outcome{
				kind:   outcomeValid,
				saveAs: saveAs,
				value:  opt.SavedValue(),
				next:   opt.NextNode,
			}
		}

		if event.HasSelection() {
			// A click arriving at a free-text question can only be a stale
			// selection from a prompt the conversation already left; its label
			// must never be harvested as a typed answer.
			return outcome{kind: outcomeIgnored}
		}
		text := strings.TrimSpace(event.Text)
		if text == "" {
			return outcome{kind: outcomeInvalid}
		}
		return outcome{
			kind:   outcomeValid,
			saveAs: node.SaveAs,
			value:  text,
			next:   node.NextNode,
		}

	default:
		// Terminal kinds clear the current node before suspending; an event
		// that still lands here is noise.
		return outcome{kind: outcomeIgnored}
	}
}

// matchOption finds the option a structured selection refers to: by option
// id first, then case-insensitive label, then the optional display title.
// First match wins.
func matchOption(options []models.NodeOption, event models.InboundEvent) (models.NodeOption, bool) {
	if event.SelectedOptionID != "" {
		for _, opt := range options {
			if opt.ID == event.SelectedOptionID {
				return opt, true
			}
		}
	}
	if event.SelectedText != "" {
		for _, opt := range options {
			if strings.EqualFold(opt.Label, event.SelectedText) {
				return opt, true
			}
		}
		for _, opt := range options {
			if opt.Title != "" && strings.EqualFold(opt.Title, event.SelectedText) {
				return opt, true
			}
		}
	}
	return models.NodeOption{}, false
}
