package flow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/gsPatrick/bot-medico-api/internal/messaging"
	"github.com/gsPatrick/bot-medico-api/internal/models"
	"github.com/gsPatrick/bot-medico-api/internal/store"
)

const testPhone = "+5511999990000"

type sentText struct {
	To   string
	Body string
}

type sentPrompt struct {
	To     string
	Prompt messaging.ChoicePrompt
}

// fakeSender records outbound traffic and mimics the messaging layer's
// batching: large option sets produce one id per batch of three.
type fakeSender struct {
	mu      sync.Mutex
	texts   []sentText
	prompts []sentPrompt
	failAll bool
	nextID  int
}

func (f *fakeSender) id() string {
	f.nextID++
	return fmt.Sprintf("WAMID-%d", f.nextID)
}

func (f *fakeSender) SendText(ctx context.Context, to string, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return "", fmt.Errorf("send failed")
	}
	f.texts = append(f.texts, sentText{To: to, Body: body})
	return f.id(), nil
}

func (f *fakeSender) SendChoicePrompt(ctx context.Context, to string, p messaging.ChoicePrompt) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, fmt.Errorf("send failed")
	}
	f.prompts = append(f.prompts, sentPrompt{To: to, Prompt: p})
	batches := 1
	if !p.AsList && len(p.Choices) > messaging.MaxReplyButtons {
		batches = (len(p.Choices) + messaging.MaxReplyButtons - 1) / messaging.MaxReplyButtons
	}
	ids := make([]string, batches)
	for i := range ids {
		ids[i] = f.id()
	}
	return ids, nil
}

func (f *fakeSender) outboundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts) + len(f.prompts)
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *store.InMemoryStore, *fakeSender) {
	t.Helper()
	st := store.NewInMemoryStore()
	sender := &fakeSender{}
	return NewEngine(st, sender, opts...), st, sender
}

// triageFlow is the canonical test graph: a closed entry question, a
// recurrence check, a free-text name question, a templated message and a
// tagging handover.
func triageFlow() models.Flow {
	return models.Flow{
		ID:     "triage",
		Name:   "Triagem",
		Active: true,
		Nodes: map[string]models.Node{
			"start": {
				Type:    models.NodeTypeQuestion,
				Content: "Olá! Deseja agendar uma consulta?",
				Options: []models.NodeOption{
					{ID: "1", Label: "Sim", NextNode: "q_name"},
					{ID: "2", Label: "Não", NextNode: "check_recurrent"},
				},
			},
			"check_recurrent": {
				Type:    models.NodeTypeQuestion,
				Content: "Você já é nosso paciente?",
				Options: []models.NodeOption{
					{ID: "yes", Label: "Sim", NextNode: "q_name"},
					{ID: "no", Label: "Não", NextNode: "q_name"},
				},
			},
			"q_name": {
				Type:     models.NodeTypeQuestion,
				Content:  "Qual é o seu nome completo?",
				SaveAs:   "name",
				NextNode: "thanks",
			},
			"thanks": {
				Type:     models.NodeTypeMessage,
				Content:  "Obrigado, {{name}}!",
				NextNode: "handoff",
			},
			"handoff": {
				Type:    models.NodeTypeHandover,
				Content: "Um atendente falará com você em instantes.",
				Tags:    []string{"PREMIUM"},
			},
		},
	}
}

func mustSaveFlow(t *testing.T, st *store.InMemoryStore, f models.Flow) {
	t.Helper()
	if err := f.Validate(); err != nil {
		t.Fatalf("test flow is invalid: %v", err)
	}
	if err := st.SaveFlow(f); err != nil {
		t.Fatalf("SaveFlow() error = %v", err)
	}
}

func textEvent(text string) models.InboundEvent {
	return models.InboundEvent{From: testPhone, Text: text, MessageID: "in-" + text}
}

func selectionEvent(id, label string) models.InboundEvent {
	return models.InboundEvent{From: testPhone, SelectedOptionID: id, SelectedText: label, MessageID: "sel-" + id}
}

func getContact(t *testing.T, st *store.InMemoryStore) *models.Contact {
	t.Helper()
	c, err := st.GetContact(testPhone)
	if err != nil {
		t.Fatalf("GetContact() error = %v", err)
	}
	if c == nil {
		t.Fatal("contact was never created")
	}
	return c
}

func TestHumanStatusStaysSilentWithAudit(t *testing.T) {
	e, st, sender := newTestEngine(t)
	mustSaveFlow(t, st, triageFlow())
	if err := st.SaveContact(models.Contact{Phone: testPhone, Status: models.ContactStatusHuman}); err != nil {
		t.Fatalf("SaveContact() error = %v", err)
	}

	if err := e.HandleEvent(context.Background(), textEvent("preciso de ajuda")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	if sender.outboundCount() != 0 {
		t.Errorf("engine produced %d outbound messages while a human was attending", sender.outboundCount())
	}
	msgs, _ := st.ListMessages(testPhone)
	if len(msgs) != 1 {
		t.Fatalf("audit log has %d entries, want 1", len(msgs))
	}
	if msgs[0].Direction != models.DirectionIn || msgs[0].NodeID != "" {
		t.Errorf("audit entry = %+v, want inbound with empty node id", msgs[0])
	}
}

func TestSessionStartSendsEntryPromptAndSuspends(t *testing.T) {
	e, st, sender := newTestEngine(t)
	mustSaveFlow(t, st, triageFlow())

	if err := e.HandleEvent(context.Background(), textEvent("oi")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	if len(sender.prompts) != 1 {
		t.Fatalf("expected the entry prompt, got %d prompts and %d texts", len(sender.prompts), len(sender.texts))
	}
	c := getContact(t, st)
	if c.CurrentNodeID != "start" {
		t.Errorf("contact suspended on %q, want start", c.CurrentNodeID)
	}
	if c.CurrentFlowID != "triage" || c.Status != models.ContactStatusBot {
		t.Errorf("contact = %+v, want BOT inside triage", c)
	}
}

func TestFreeTextIgnoredAtClosedQuestion(t *testing.T) {
	e, st, sender := newTestEngine(t)
	mustSaveFlow(t, st, triageFlow())

	// First event starts the session; the flow suspends on the closed entry question.
	if err := e.HandleEvent(context.Background(), textEvent("oi")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	before := sender.outboundCount()

	if err := e.HandleEvent(context.Background(), textEvent("quero sim")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	if sender.outboundCount() != before {
		t.Error("free text at a closed question must not produce a reply")
	}
	c := getContact(t, st)
	if c.CurrentNodeID != "start" {
		t.Errorf("free text moved the conversation to %q", c.CurrentNodeID)
	}
	if len(c.Variables) != 0 {
		t.Errorf("free text mutated variables: %v", c.Variables)
	}
	msgs, _ := st.ListMessages(testPhone)
	last := msgs[len(msgs)-1]
	if last.Direction != models.DirectionIn || last.NodeID != "" {
		t.Errorf("ignored event audit = %+v, want inbound with empty node id", last)
	}
}

func TestMessageChainExecutesAllAndSuspends(t *testing.T) {
	chain := models.Flow{
		ID:     "chain",
		Name:   "Chain",
		Active: true,
		Nodes: map[string]models.Node{
			"start": {Type: models.NodeTypeMessage, Content: "um", NextNode: "m2"},
			"m2":    {Type: models.NodeTypeMessage, Content: "dois", NextNode: "m3"},
			"m3":    {Type: models.NodeTypeMessage, Content: "três", NextNode: "q"},
			"q":     {Type: models.NodeTypeQuestion, Content: "pronto?", SaveAs: "ready", NextNode: "start"},
		},
	}
	e, st, sender := newTestEngine(t)
	mustSaveFlow(t, st, chain)

	if err := e.HandleEvent(context.Background(), textEvent("oi")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	if len(sender.texts) != 4 {
		t.Fatalf("expected 3 chained messages plus the question prompt, got %d sends", len(sender.texts))
	}
	got := []string{sender.texts[0].Body, sender.texts[1].Body, sender.texts[2].Body}
	want := []string{"um", "dois", "três"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chained send %d = %q, want %q", i, got[i], want[i])
		}
	}
	c := getContact(t, st)
	if c.CurrentNodeID != "q" {
		t.Errorf("chain suspended on %q, want q", c.CurrentNodeID)
	}
}

func TestChainGuardStopsLoopingGraph(t *testing.T) {
	loop := models.Flow{
		ID:     "loop",
		Name:   "Loop",
		Active: true,
		Nodes: map[string]models.Node{
			"start": {Type: models.NodeTypeMessage, Content: "a", NextNode: "b"},
			"b":     {Type: models.NodeTypeMessage, Content: "b", NextNode: "start"},
		},
	}
	e, st, sender := newTestEngine(t, WithMaxChainLength(6))
	mustSaveFlow(t, st, loop)

	_ = e.HandleEvent(context.Background(), textEvent("oi"))

	if len(sender.texts) > 6 {
		t.Errorf("chain guard allowed %d sends, cap is 6", len(sender.texts))
	}
	// The guard suspends the conversation on the last node that ran, so a
	// later inbound event resumes there instead of replaying the chain from
	// the flow entry.
	c := getContact(t, st)
	if c.CurrentNodeID != "b" {
		t.Errorf("after the guard tripped contact is on %q, want b", c.CurrentNodeID)
	}
	if c.CurrentFlowID != "loop" {
		t.Errorf("guard cleared the flow id, got %q", c.CurrentFlowID)
	}
}

func TestStartScenarioCollectsName(t *testing.T) {
	e, st, sender := newTestEngine(t)
	mustSaveFlow(t, st, triageFlow())
	ctx := context.Background()

	// "oi" starts the session: entry prompt, suspend on start.
	if err := e.HandleEvent(ctx, textEvent("oi")); err != nil {
		t.Fatalf("HandleEvent(oi) error = %v", err)
	}
	// Selecting "Sim" transitions to the free-text name question.
	if err := e.HandleEvent(ctx, selectionEvent("1", "Sim")); err != nil {
		t.Fatalf("HandleEvent(Sim) error = %v", err)
	}
	c := getContact(t, st)
	if c.CurrentNodeID != "q_name" {
		t.Fatalf("after selection contact is on %q, want q_name", c.CurrentNodeID)
	}

	// The typed name is saved verbatim, updates the display name, and the
	// flow runs through the templated message into the handover.
	if err := e.HandleEvent(ctx, textEvent("Maria Silva")); err != nil {
		t.Fatalf("HandleEvent(name) error = %v", err)
	}
	c = getContact(t, st)
	if c.Variables["name"] != "Maria Silva" {
		t.Errorf("variables.name = %q, want Maria Silva", c.Variables["name"])
	}
	if c.Name != "Maria Silva" {
		t.Errorf("contact display name = %q, want Maria Silva", c.Name)
	}
	var thanked bool
	for _, s := range sender.texts {
		if s.Body == "Obrigado, Maria Silva!" {
			thanked = true
		}
	}
	if !thanked {
		t.Errorf("templated thanks message not sent; texts = %+v", sender.texts)
	}
	if c.Status != models.ContactStatusHuman || c.CurrentNodeID != "" {
		t.Errorf("after handover contact = status %s node %q, want HUMAN with node cleared", c.Status, c.CurrentNodeID)
	}
}

func TestStaleSelectionIgnoredAfterTransition(t *testing.T) {
	e, st, sender := newTestEngine(t)
	mustSaveFlow(t, st, triageFlow())
	ctx := context.Background()

	_ = e.HandleEvent(ctx, textEvent("oi"))
	_ = e.HandleEvent(ctx, selectionEvent("1", "Sim"))
	c := getContact(t, st)
	if c.CurrentNodeID != "q_name" {
		t.Fatalf("setup failed, contact on %q", c.CurrentNodeID)
	}
	before := sender.outboundCount()

	// Re-delivering the same selection after the conversation moved on must
	// not replay the transition or recreate the prompt.
	if err := e.HandleEvent(ctx, selectionEvent("1", "Sim")); err != nil {
		t.Fatalf("HandleEvent(stale) error = %v", err)
	}
	c = getContact(t, st)
	if c.CurrentNodeID != "q_name" {
		t.Errorf("stale selection moved contact to %q", c.CurrentNodeID)
	}
	if sender.outboundCount() != before {
		t.Error("stale selection produced outbound messages")
	}
}

func TestRecurrenceEntryTagsRepeatContactOnce(t *testing.T) {
	e, st, sender := newTestEngine(t)
	mustSaveFlow(t, st, triageFlow())
	ctx := context.Background()

	// Returning participant: prior variables, no current node.
	if err := st.SaveContact(models.Contact{
		Phone:     testPhone,
		Status:    models.ContactStatusFinished,
		Variables: map[string]string{"name": "Maria Silva"},
	}); err != nil {
		t.Fatalf("SaveContact() error = %v", err)
	}

	if err := e.HandleEvent(ctx, textEvent("oi de novo")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	c := getContact(t, st)
	if c.CurrentNodeID != models.RecurrenceNodeID {
		t.Errorf("returning participant entered at %q, want %s", c.CurrentNodeID, models.RecurrenceNodeID)
	}
	if !c.HasTag(TagRepeatContact) {
		t.Errorf("repeat contact tag missing; tags = %v", c.Tags)
	}
	if len(sender.prompts) != 1 || sender.prompts[0].Prompt.Body != "Você já é nosso paciente?" {
		t.Errorf("recurrence prompt not sent; prompts = %+v", sender.prompts)
	}

	// Re-entering again must not duplicate the tag.
	c.CurrentFlowID = ""
	c.CurrentNodeID = ""
	if err := st.SaveContact(*c); err != nil {
		t.Fatalf("SaveContact() error = %v", err)
	}
	if err := e.HandleEvent(ctx, textEvent("voltei")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	c = getContact(t, st)
	count := 0
	for _, tag := range c.Tags {
		if tag == TagRepeatContact {
			count++
		}
	}
	if count != 1 {
		t.Errorf("repeat contact tag appears %d times, want exactly once", count)
	}
}

func TestDisqualifiedReentrySetsVariable(t *testing.T) {
	e, st, _ := newTestEngine(t)
	mustSaveFlow(t, st, triageFlow())

	if err := st.SaveContact(models.Contact{
		Phone:  testPhone,
		Status: models.ContactStatusDisqualified,
	}); err != nil {
		t.Fatalf("SaveContact() error = %v", err)
	}

	if err := e.HandleEvent(context.Background(), textEvent("oi")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	c := getContact(t, st)
	if c.Variables[VarPreviouslyDisqualified] != "true" {
		t.Errorf("previously_disqualified = %q, want true", c.Variables[VarPreviouslyDisqualified])
	}
	if c.Status != models.ContactStatusBot {
		t.Errorf("status after re-entry = %s, want BOT", c.Status)
	}
}

func TestHandoverMergesTagsAndNotifiesRecipients(t *testing.T) {
	e, st, sender := newTestEngine(t, WithDashboardURL("https://painel.example.com"))
	mustSaveFlow(t, st, triageFlow())
	ctx := context.Background()

	for _, r := range []models.NotificationRecipient{
		{ID: "r1", Name: "Dra. Paula", Phone: "+551101", Enabled: true},
		{ID: "r2", Name: "Recepção", Phone: "+551102", Enabled: true},
		{ID: "r3", Name: "Desativado", Phone: "+551103", Enabled: false},
	} {
		if err := st.AddNotificationRecipient(r); err != nil {
			t.Fatalf("AddNotificationRecipient() error = %v", err)
		}
	}
	// Conversation already tagged VIP, suspended right before the handover.
	if err := st.SaveContact(models.Contact{
		Phone:         testPhone,
		Status:        models.ContactStatusBot,
		CurrentFlowID: "triage",
		CurrentNodeID: "q_name",
		Tags:          []string{"VIP"},
		Variables:     map[string]string{"tipo_consulta": "Primeira consulta"},
	}); err != nil {
		t.Fatalf("SaveContact() error = %v", err)
	}

	if err := e.HandleEvent(ctx, textEvent("Maria Silva")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	c := getContact(t, st)
	if c.Status != models.ContactStatusHuman || c.CurrentNodeID != "" {
		t.Fatalf("contact after handover = status %s node %q", c.Status, c.CurrentNodeID)
	}
	for _, want := range []string{"VIP", "PREMIUM"} {
		if !c.HasTag(want) {
			t.Errorf("tag %q missing after handover; tags = %v", want, c.Tags)
		}
	}

	summaries := map[string]int{}
	for _, s := range sender.texts {
		if strings.Contains(s.Body, "Novo atendimento transferido") {
			summaries[s.To]++
		}
	}
	if summaries["+551101"] != 1 || summaries["+551102"] != 1 {
		t.Errorf("enabled recipients got %v summaries, want exactly one each", summaries)
	}
	if summaries["+551103"] != 0 {
		t.Error("disabled recipient received a summary")
	}
	for _, s := range sender.texts {
		if s.To != "+551101" {
			continue
		}
		if !strings.Contains(s.Body, "Maria Silva") {
			t.Errorf("summary missing collected name: %q", s.Body)
		}
		if !strings.Contains(s.Body, "Tipo consulta: Primeira consulta") {
			t.Errorf("summary missing humanized variable: %q", s.Body)
		}
		if !strings.Contains(s.Body, "painel.example.com/chat/5511999990000") {
			t.Errorf("summary missing dashboard link: %q", s.Body)
		}
	}
}

func TestTriggerKeywordSelectsFlowOverActive(t *testing.T) {
	e, st, sender := newTestEngine(t)
	mustSaveFlow(t, st, triageFlow())
	campaign := models.Flow{
		ID:             "campaign",
		Name:           "Campanha",
		TriggerKeyword: "promo",
		Nodes: map[string]models.Node{
			"start": {Type: models.NodeTypeQuestion, Content: "Bem-vindo à campanha! Seu nome?", SaveAs: "name", NextNode: "start"},
		},
	}
	mustSaveFlow(t, st, campaign)

	if err := e.HandleEvent(context.Background(), textEvent("promo")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	c := getContact(t, st)
	if c.CurrentFlowID != "campaign" {
		t.Errorf("trigger keyword entered flow %q, want campaign", c.CurrentFlowID)
	}
	if len(sender.texts) != 1 || !strings.Contains(sender.texts[0].Body, "campanha") {
		t.Errorf("campaign prompt not sent; texts = %+v", sender.texts)
	}
}

func TestNoActiveFlowStaysSilent(t *testing.T) {
	e, st, sender := newTestEngine(t)

	if err := e.HandleEvent(context.Background(), textEvent("oi")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if sender.outboundCount() != 0 {
		t.Error("engine replied with no active flow configured")
	}
	msgs, _ := st.ListMessages(testPhone)
	if len(msgs) != 1 {
		t.Errorf("inbound event not audited; log has %d entries", len(msgs))
	}
}

func TestOperatorMessageTriggersTakeover(t *testing.T) {
	e, st, sender := newTestEngine(t)
	mustSaveFlow(t, st, triageFlow())
	if err := st.SaveContact(models.Contact{
		Phone:         testPhone,
		Status:        models.ContactStatusBot,
		CurrentFlowID: "triage",
		CurrentNodeID: "start",
	}); err != nil {
		t.Fatalf("SaveContact() error = %v", err)
	}

	ev := models.InboundEvent{From: testPhone, IsFromSelf: true, Text: "Oi, aqui é a recepção", MessageID: "op-1"}
	if err := e.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	c := getContact(t, st)
	if c.Status != models.ContactStatusHuman || c.CurrentNodeID != "" {
		t.Errorf("operator message left contact at status %s node %q", c.Status, c.CurrentNodeID)
	}
	if sender.outboundCount() != 0 {
		t.Error("operator takeover must not send anything")
	}
	msgs, _ := st.ListMessages(testPhone)
	if len(msgs) != 1 || msgs[0].Direction != models.DirectionOut || msgs[0].Metadata["source"] != "operator" {
		t.Errorf("operator message audit = %+v", msgs)
	}
}

func TestMarkHumanTakeoverIdempotent(t *testing.T) {
	e, st, _ := newTestEngine(t)
	if err := st.SaveContact(models.Contact{
		Phone:         testPhone,
		Status:        models.ContactStatusBot,
		CurrentFlowID: "triage",
		CurrentNodeID: "start",
	}); err != nil {
		t.Fatalf("SaveContact() error = %v", err)
	}

	if err := e.MarkHumanTakeover(context.Background(), testPhone); err != nil {
		t.Fatalf("MarkHumanTakeover() error = %v", err)
	}
	c := getContact(t, st)
	first := c.UpdatedAt
	if c.Status != models.ContactStatusHuman || c.CurrentNodeID != "" {
		t.Fatalf("takeover left contact at status %s node %q", c.Status, c.CurrentNodeID)
	}

	if err := e.MarkHumanTakeover(context.Background(), testPhone); err != nil {
		t.Fatalf("second MarkHumanTakeover() error = %v", err)
	}
	c = getContact(t, st)
	if c.Status != models.ContactStatusHuman {
		t.Errorf("second takeover changed status to %s", c.Status)
	}
	_ = first
}

func TestFailedSendKeepsStateBehind(t *testing.T) {
	e, st, sender := newTestEngine(t)
	mustSaveFlow(t, st, triageFlow())
	if err := st.SaveContact(models.Contact{
		Phone:         testPhone,
		Status:        models.ContactStatusBot,
		CurrentFlowID: "triage",
		CurrentNodeID: "q_name",
	}); err != nil {
		t.Fatalf("SaveContact() error = %v", err)
	}
	sender.failAll = true

	_ = e.HandleEvent(context.Background(), textEvent("Maria Silva"))

	c := getContact(t, st)
	// The accepted answer is durable but the conversation must not advance
	// past what the participant actually saw.
	if c.Variables["name"] != "Maria Silva" {
		t.Errorf("accepted answer lost: %v", c.Variables)
	}
	if c.CurrentNodeID != "q_name" {
		t.Errorf("failed send advanced contact to %q", c.CurrentNodeID)
	}
	if c.Status != models.ContactStatusBot {
		t.Errorf("failed send changed status to %s", c.Status)
	}
}

func TestTitledQuestionSendsSingleList(t *testing.T) {
	listed := models.Flow{
		ID:     "listed",
		Name:   "Listed",
		Active: true,
		Nodes: map[string]models.Node{
			"start": {
				Type:    models.NodeTypeQuestion,
				Content: "Qual especialidade?",
				Title:   "Especialidades",
				SaveAs:  "specialty",
				Options: []models.NodeOption{
					{ID: "1", Label: "Cardiologia", NextNode: "start"},
					{ID: "2", Label: "Dermatologia", NextNode: "start"},
					{ID: "3", Label: "Ortopedia", NextNode: "start"},
					{ID: "4", Label: "Pediatria", NextNode: "start"},
					{ID: "5", Label: "Neurologia", NextNode: "start"},
				},
			},
		},
	}
	e, st, sender := newTestEngine(t)
	mustSaveFlow(t, st, listed)

	if err := e.HandleEvent(context.Background(), textEvent("oi")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	// A titled question keeps all its options in one list message instead
	// of splitting into button batches.
	if len(sender.prompts) != 1 {
		t.Fatalf("expected a single prompt, got %d", len(sender.prompts))
	}
	p := sender.prompts[0].Prompt
	if !p.AsList || p.Title != "Especialidades" || len(p.Choices) != 5 {
		t.Errorf("prompt = %+v, want a 5-row list titled Especialidades", p)
	}
	msgs, _ := st.ListMessages(testPhone)
	var out []models.Message
	for _, m := range msgs {
		if m.Direction == models.DirectionOut {
			out = append(out, m)
		}
	}
	if len(out) != 1 {
		t.Fatalf("list question should audit as one message, got %d", len(out))
	}
	if out[0].Type != models.MessageTypeList || out[0].NodeID != "start" {
		t.Errorf("list audit = %+v, want a list message for node start", out[0])
	}
}

func TestBatchedQuestionAuditsEveryMessage(t *testing.T) {
	wide := models.Flow{
		ID:     "wide",
		Name:   "Wide",
		Active: true,
		Nodes: map[string]models.Node{
			"start": {
				Type:    models.NodeTypeQuestion,
				Content: "Qual especialidade?",
				SaveAs:  "specialty",
				Options: []models.NodeOption{
					{ID: "1", Label: "Cardiologia", NextNode: "start"},
					{ID: "2", Label: "Dermatologia", NextNode: "start"},
					{ID: "3", Label: "Ortopedia", NextNode: "start"},
					{ID: "4", Label: "Pediatria", NextNode: "start"},
					{ID: "5", Label: "Neurologia", NextNode: "start"},
				},
			},
		},
	}
	e, st, _ := newTestEngine(t)
	mustSaveFlow(t, st, wide)

	if err := e.HandleEvent(context.Background(), textEvent("oi")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	msgs, _ := st.ListMessages(testPhone)
	var out []models.Message
	for _, m := range msgs {
		if m.Direction == models.DirectionOut {
			out = append(out, m)
		}
	}
	if len(out) != 2 {
		t.Fatalf("5 options should audit as 2 batch messages, got %d", len(out))
	}
	if out[0].Content != "Qual especialidade?" {
		t.Errorf("first batch audit content = %q", out[0].Content)
	}
	if out[1].Content != messaging.ContinuationPromptBody {
		t.Errorf("second batch audit content = %q", out[1].Content)
	}
	for _, m := range out {
		if m.NodeID != "start" {
			t.Errorf("batch audit node id = %q, want start", m.NodeID)
		}
	}
}
