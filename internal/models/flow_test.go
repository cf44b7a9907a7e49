package models

import "testing"

func validFlow() *Flow {
	return &Flow{
		ID:   "f1",
		Name: "triage",
		Nodes: map[string]Node{
			"start": {
				Type:    NodeTypeQuestion,
				Content: "First time?",
				SaveAs:  "first_time",
				Options: []NodeOption{
					{ID: "1", Label: "Sim", Value: "sim", NextNode: "welcome"},
					{ID: "2", Label: "Não", Value: "nao", NextNode: "bye"},
				},
			},
			"welcome": {Type: NodeTypeMessage, Content: "Welcome {{name}}", NextNode: "bye"},
			"bye":     {Type: NodeTypeDisqualify, Content: "Goodbye"},
		},
	}
}

func TestFlowValidate_OK(t *testing.T) {
	f := validFlow()
	if err := f.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFlowValidate_MissingEntryNode(t *testing.T) {
	f := validFlow()
	delete(f.Nodes, "start")
	if err := f.Validate(); err != ErrNoEntryNode {
		t.Errorf("expected ErrNoEntryNode, got %v", err)
	}
}

func TestFlowValidate_UnknownNodeType(t *testing.T) {
	f := validFlow()
	f.Nodes["weird"] = Node{Type: "teleport", Content: "x"}
	if err := f.Validate(); err == nil {
		t.Error("expected error for unknown node type, got nil")
	}
}

func TestFlowValidate_DanglingNextNode(t *testing.T) {
	f := validFlow()
	f.Nodes["welcome"] = Node{Type: NodeTypeMessage, Content: "Welcome", NextNode: "nowhere"}
	if err := f.Validate(); err == nil {
		t.Error("expected error for dangling next_node, got nil")
	}
}

func TestFlowValidate_DanglingOptionTarget(t *testing.T) {
	f := validFlow()
	n := f.Nodes["start"]
	n.Options = append(n.Options, NodeOption{ID: "3", Label: "Maybe", NextNode: "missing"})
	f.Nodes["start"] = n
	if err := f.Validate(); err == nil {
		t.Error("expected error for dangling option target, got nil")
	}
}

func TestFlowValidate_MessageWithoutNextNode(t *testing.T) {
	f := validFlow()
	f.Nodes["welcome"] = Node{Type: NodeTypeMessage, Content: "Welcome"}
	if err := f.Validate(); err == nil {
		t.Error("expected error for message node without next_node, got nil")
	}
}

func TestFlowValidate_FreeTextQuestionWithoutNextNode(t *testing.T) {
	f := validFlow()
	f.Nodes["q_name"] = Node{Type: NodeTypeQuestion, Content: "Your name?", SaveAs: "name"}
	if err := f.Validate(); err == nil {
		t.Error("expected error for free-text question without next_node, got nil")
	}
}

func TestNodeOptionSavedValue(t *testing.T) {
	withValue := NodeOption{Label: "Sim", Value: "sim"}
	if got := withValue.SavedValue(); got != "sim" {
		t.Errorf("expected %q, got %q", "sim", got)
	}
	withoutValue := NodeOption{Label: "Sim"}
	if got := withoutValue.SavedValue(); got != "Sim" {
		t.Errorf("expected %q, got %q", "Sim", got)
	}
}

func TestContactMergeTags(t *testing.T) {
	c := &Contact{Tags: []string{"VIP"}}
	c.MergeTags([]string{"PREMIUM", "VIP", "PREMIUM"})
	if len(c.Tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", c.Tags)
	}
	if !c.HasTag("VIP") || !c.HasTag("PREMIUM") {
		t.Errorf("expected tag union {VIP, PREMIUM}, got %v", c.Tags)
	}
}

func TestInboundEventHelpers(t *testing.T) {
	if (InboundEvent{Text: "oi"}).HasSelection() {
		t.Error("text event should not report a selection")
	}
	if !(InboundEvent{SelectedOptionID: "1"}).HasSelection() {
		t.Error("selection event should report a selection")
	}
	if !(InboundEvent{}).Empty() {
		t.Error("empty event should report Empty")
	}
}
