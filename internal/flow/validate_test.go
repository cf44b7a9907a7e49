package flow

import (
	"testing"

	"github.com/gsPatrick/bot-medico-api/internal/models"
)

func closedNode() models.Node {
	return models.Node{
		Type:    models.NodeTypeQuestion,
		Content: "Escolha:",
		SaveAs:  "answer",
		Options: []models.NodeOption{
			{ID: "a", Label: "Alfa", Title: "Opção Alfa", Value: "alfa", NextNode: "n1"},
			{ID: "b", Label: "Beta", NextNode: "n2", SaveAs: "beta_answer"},
		},
	}
}

func TestEvaluateClosedQuestionMatchesByIDFirst(t *testing.T) {
	// The id points at one option while the label text matches another; the
	// id must win.
	out := evaluateResponse(closedNode(), models.InboundEvent{SelectedOptionID: "b", SelectedText: "Alfa"})
	if out.kind != outcomeValid {
		t.Fatalf("outcome = %v, want valid", out.kind)
	}
	if out.next != "n2" {
		t.Errorf("next = %q, want n2", out.next)
	}
	if out.saveAs != "beta_answer" {
		t.Errorf("saveAs = %q, want the option-level override", out.saveAs)
	}
}

func TestEvaluateClosedQuestionMatchesLabelCaseInsensitive(t *testing.T) {
	out := evaluateResponse(closedNode(), models.InboundEvent{SelectedOptionID: "zz", SelectedText: "ALFA"})
	if out.kind != outcomeValid || out.next != "n1" {
		t.Errorf("outcome = %+v, want valid transition to n1", out)
	}
	if out.value != "alfa" {
		t.Errorf("value = %q, want the declared option value", out.value)
	}
	if out.saveAs != "answer" {
		t.Errorf("saveAs = %q, want the node-level save_as", out.saveAs)
	}
}

func TestEvaluateClosedQuestionMatchesTitleLast(t *testing.T) {
	out := evaluateResponse(closedNode(), models.InboundEvent{SelectedOptionID: "zz", SelectedText: "opção alfa"})
	if out.kind != outcomeValid || out.next != "n1" {
		t.Errorf("outcome = %+v, want valid transition to n1 via title", out)
	}
}

func TestEvaluateClosedQuestionIgnoresFreeText(t *testing.T) {
	out := evaluateResponse(closedNode(), models.InboundEvent{Text: "Alfa"})
	if out.kind != outcomeIgnored {
		t.Errorf("typed label at closed question = %v, want ignored", out.kind)
	}
}

func TestEvaluateClosedQuestionIgnoresUnmatchedSelection(t *testing.T) {
	out := evaluateResponse(closedNode(), models.InboundEvent{SelectedOptionID: "stale", SelectedText: "Gamma"})
	if out.kind != outcomeIgnored {
		t.Errorf("unmatched selection = %v, want ignored", out.kind)
	}
}

func TestEvaluateFreeTextQuestion(t *testing.T) {
	node := models.Node{Type: models.NodeTypeQuestion, Content: "Nome?", SaveAs: "name", NextNode: "next"}

	out := evaluateResponse(node, models.InboundEvent{Text: "  Maria Silva  "})
	if out.kind != outcomeValid || out.value != "Maria Silva" || out.next != "next" {
		t.Errorf("outcome = %+v, want trimmed valid answer", out)
	}

	out = evaluateResponse(node, models.InboundEvent{Text: "   "})
	if out.kind != outcomeInvalid {
		t.Errorf("blank answer = %v, want invalid (reprompt)", out.kind)
	}
}

func TestEvaluateFreeTextQuestionIgnoresSelection(t *testing.T) {
	node := models.Node{Type: models.NodeTypeQuestion, Content: "Nome?", SaveAs: "name", NextNode: "next"}

	// A button click from an earlier prompt replayed while suspended on a
	// free-text question must not become the stored answer.
	out := evaluateResponse(node, models.InboundEvent{SelectedOptionID: "1", SelectedText: "Sim"})
	if out.kind != outcomeIgnored {
		t.Errorf("stale selection at free-text question = %v, want ignored", out.kind)
	}
	if out.value != "" || out.saveAs != "" {
		t.Errorf("stale selection must not carry a value, got %+v", out)
	}
}
