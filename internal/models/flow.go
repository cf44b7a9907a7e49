// Package models defines the core data structures for the triage bot.
//
// This file defines the flow graph: a named collection of typed nodes that
// the engine walks per conversation, plus its authoring-time validation.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Conventional node identifiers recognized by the engine.
const (
	// EntryNodeID is the conventional entry point of every flow.
	EntryNodeID = "start"
	// RecurrenceNodeID, when present, is the entry point for returning contacts.
	RecurrenceNodeID = "check_recurrent"
)

// NodeType is the tagged kind of a flow node.
type NodeType string

const (
	// NodeTypeMessage sends text and advances automatically to NextNode.
	NodeTypeMessage NodeType = "message"
	// NodeTypeQuestion sends a prompt and suspends until the next inbound event.
	NodeTypeQuestion NodeType = "question"
	// NodeTypeHandover transfers the conversation to a human operator.
	NodeTypeHandover NodeType = "handover"
	// NodeTypeDisqualify terminates the conversation as rejected.
	NodeTypeDisqualify NodeType = "disqualify"
)

// IsValidNodeType checks if the given node type is supported.
func IsValidNodeType(t NodeType) bool {
	switch t {
	case NodeTypeMessage, NodeTypeQuestion, NodeTypeHandover, NodeTypeDisqualify:
		return true
	default:
		return false
	}
}

// NodeOption is one selectable choice of a closed question node.
type NodeOption struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Title    string `json:"title,omitempty"`
	Value    string `json:"value,omitempty"`
	NextNode string `json:"next_node"`
	SaveAs   string `json:"save_as,omitempty"`
}

// SavedValue returns what a selection of this option stores: the declared
// value when present, otherwise the label.
func (o NodeOption) SavedValue() string {
	if o.Value != "" {
		return o.Value
	}
	return o.Label
}

// Node is one step of a flow graph. Which fields are meaningful depends on
// Type: message nodes use NextNode, question nodes use SaveAs plus either
// Options (closed choice) or NextNode (free text), handover nodes use Tags.
type Node struct {
	Type     NodeType     `json:"type"`
	Content  string       `json:"content"`
	NextNode string       `json:"next_node,omitempty"`
	SaveAs   string       `json:"save_as,omitempty"`
	Options  []NodeOption `json:"options,omitempty"`
	Title    string       `json:"title,omitempty"`
	Footer   string       `json:"footer,omitempty"`
	Tags     []string     `json:"tags,omitempty"`
}

// HasOptions reports whether the node is a closed-choice question.
func (n Node) HasOptions() bool {
	return len(n.Options) > 0
}

// Flow is an immutable-per-version directed graph of nodes keyed by node id.
// At most one flow is active system-wide at any time.
type Flow struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Active         bool            `json:"active"`
	TriggerKeyword string          `json:"trigger_keyword,omitempty"`
	Nodes          map[string]Node `json:"nodes"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Node returns the node with the given id, if present.
func (f *Flow) Node(id string) (Node, bool) {
	n, ok := f.Nodes[id]
	return n, ok
}

// Flow validation errors.
var (
	ErrEmptyFlowName = errors.New("flow name cannot be empty")
	ErrNoNodes       = errors.New("flow must define at least one node")
	ErrNoEntryNode   = errors.New("flow must define an entry node")
)

// Validate checks a flow graph at authoring time: every node must carry a
// known type and non-empty content where required, and every next_node
// reference (including option targets) must point at an existing node in the
// same flow. The engine treats a dangling reference at runtime as a fatal
// resolution error, so authoring must never let one through.
func (f *Flow) Validate() error {
	if f.Name == "" {
		return ErrEmptyFlowName
	}
	if len(f.Nodes) == 0 {
		return ErrNoNodes
	}
	if _, ok := f.Nodes[EntryNodeID]; !ok {
		return ErrNoEntryNode
	}
	for id, node := range f.Nodes {
		if !IsValidNodeType(node.Type) {
			return fmt.Errorf("node %q has unknown type %q", id, node.Type)
		}
		if node.Content == "" {
			return fmt.Errorf("node %q has empty content", id)
		}
		if node.NextNode != "" {
			if _, ok := f.Nodes[node.NextNode]; !ok {
				return fmt.Errorf("node %q references missing node %q", id, node.NextNode)
			}
		}
		switch node.Type {
		case NodeTypeMessage:
			if node.NextNode == "" {
				return fmt.Errorf("message node %q must declare next_node", id)
			}
		case NodeTypeQuestion:
			if !node.HasOptions() && node.NextNode == "" {
				return fmt.Errorf("free-text question node %q must declare next_node", id)
			}
			for i, opt := range node.Options {
				if opt.Label == "" {
					return fmt.Errorf("node %q option %d has empty label", id, i)
				}
				if opt.NextNode == "" {
					return fmt.Errorf("node %q option %q must declare next_node", id, opt.Label)
				}
				if _, ok := f.Nodes[opt.NextNode]; !ok {
					return fmt.Errorf("node %q option %q references missing node %q", id, opt.Label, opt.NextNode)
				}
			}
		case NodeTypeHandover, NodeTypeDisqualify:
			// terminal kinds carry no successor
		}
	}
	return nil
}
