// Package flow implements the conversation-flow engine: it walks a directed
// graph of typed nodes per conversation, validates inbound responses against
// the current node, mutates per-conversation state and emits the outbound
// messages for the next step.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gsPatrick/bot-medico-api/internal/messaging"
	"github.com/gsPatrick/bot-medico-api/internal/models"
	"github.com/gsPatrick/bot-medico-api/internal/store"
	"github.com/gsPatrick/bot-medico-api/internal/whatsapp"
)

// Engine-recognized tags and variables.
const (
	// TagRepeatContact marks a participant who re-entered a flow after a
	// previous conversation.
	TagRepeatContact = "SEGUNDO_CONTATO"
	// VarPreviouslyDisqualified is set on re-entry after a DISQUALIFIED
	// conversation so graphs can branch on it.
	VarPreviouslyDisqualified = "previously_disqualified"
	// VarName is the variable whose assignment also updates the contact
	// display name.
	VarName = "name"

	// DefaultMaxChainLength bounds automatic message-node chains. A graph
	// that chains longer than this is treated as an authoring error.
	DefaultMaxChainLength = 25
)

// Sender is the outbound surface the engine needs from the messaging layer.
type Sender interface {
	SendText(ctx context.Context, to string, body string) (string, error)
	SendChoicePrompt(ctx context.Context, to string, p messaging.ChoicePrompt) ([]string, error)
}

// Opts holds configuration options for the flow engine.
type Opts struct {
	MaxChainLength int
	SendDelay      time.Duration
	DashboardURL   string
}

// Option defines a configuration option for the flow engine.
type Option func(*Opts)

// WithMaxChainLength overrides the automatic chain-length guard.
func WithMaxChainLength(n int) Option {
	return func(o *Opts) { o.MaxChainLength = n }
}

// WithSendDelay sets a pause between consecutive automatic sends so chained
// messages do not arrive as a burst. Zero disables it.
func WithSendDelay(d time.Duration) Option {
	return func(o *Opts) { o.SendDelay = d }
}

// WithDashboardURL sets the base URL linked from handover notifications.
func WithDashboardURL(url string) Option {
	return func(o *Opts) { o.DashboardURL = url }
}

// Engine is the conversation-flow interpreter. All conversation state
// mutations during automated flow go through it, serialized per address.
type Engine struct {
	store  store.Store
	sender Sender
	opts   Opts

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a flow engine on top of the given store and sender.
func NewEngine(st store.Store, sender Sender, opts ...Option) *Engine {
	cfg := Opts{MaxChainLength: DefaultMaxChainLength}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxChainLength <= 0 {
		cfg.MaxChainLength = DefaultMaxChainLength
	}
	slog.Debug("Flow engine created", "maxChainLength", cfg.MaxChainLength, "sendDelay", cfg.SendDelay)
	return &Engine{
		store:  st,
		sender: sender,
		opts:   cfg,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockFor returns the per-address mutex, creating it lazily.
func (e *Engine) lockFor(address string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[address]
	if !ok {
		l = &sync.Mutex{}
		e.locks[address] = l
	}
	return l
}

// HandleEvent processes one inbound conversation event. At most one event per
// address is transitioning state at a time; events for other addresses are
// unaffected. Boundary failures are logged and swallowed so a misunderstood
// message can never crash intake.
func (e *Engine) HandleEvent(ctx context.Context, event models.InboundEvent) error {
	if event.From == "" {
		slog.Warn("Flow engine dropping event without sender address")
		return nil
	}
	if event.Empty() && !event.IsFromSelf {
		slog.Debug("Flow engine dropping empty event", "from", event.From)
		return nil
	}

	lock := e.lockFor(event.From)
	lock.Lock()
	defer lock.Unlock()

	slog.Debug("Flow engine handling event", "from", event.From, "fromSelf", event.IsFromSelf, "hasSelection", event.HasSelection())

	contact, err := e.getOrCreateContact(event.From)
	if err != nil {
		slog.Error("Flow engine failed to load contact", "error", err, "from", event.From)
		return nil
	}
	contact.LastInteractionAt = time.Now()

	// A message typed by an operator on the business phone means a human is
	// attending: hand the conversation over without running any node.
	if event.IsFromSelf {
		e.audit(models.Message{
			ContactPhone:      contact.Phone,
			Direction:         models.DirectionOut,
			Content:           event.Text,
			Type:              models.MessageTypeText,
			ProviderMessageID: event.MessageID,
			Metadata:          map[string]string{"source": "operator"},
		})
		if err := e.takeOverLocked(contact); err != nil {
			slog.Error("Flow engine operator takeover failed", "error", err, "phone", contact.Phone)
		}
		return nil
	}

	// While a human is attending the engine must stay fully silent, but the
	// message is still preserved for audit continuity.
	if contact.Status == models.ContactStatusHuman {
		e.audit(inboundAudit(contact.Phone, event, ""))
		if err := e.store.SaveContact(*contact); err != nil {
			slog.Error("Flow engine failed to refresh contact during human attendance", "error", err, "phone", contact.Phone)
		}
		slog.Debug("Flow engine silent, human attending", "phone", contact.Phone)
		return nil
	}

	if !contact.InFlow() {
		consumed, err := e.startSession(ctx, contact, event)
		if err != nil {
			slog.Error("Flow engine session start failed", "error", err, "phone", contact.Phone)
		}
		_ = consumed // the triggering event is the session-starting signal
		return nil
	}

	f, err := e.store.GetFlow(contact.CurrentFlowID)
	if err != nil || f == nil {
		slog.Error("Flow engine resolution error: flow not found", "error", err, "flowID", contact.CurrentFlowID, "phone", contact.Phone)
		return nil
	}
	node, ok := f.Node(contact.CurrentNodeID)
	if !ok {
		slog.Error("Flow engine resolution error: node not found", "flowID", f.ID, "nodeID", contact.CurrentNodeID, "phone", contact.Phone)
		return nil
	}

	out := evaluateResponse(node, event)
	switch out.kind {
	case outcomeIgnored:
		e.audit(inboundAudit(contact.Phone, event, ""))
		if err := e.store.SaveContact(*contact); err != nil {
			slog.Error("Flow engine failed to save contact after ignored event", "error", err, "phone", contact.Phone)
		}
		slog.Debug("Flow engine ignored event", "phone", contact.Phone, "nodeID", contact.CurrentNodeID)
		return nil

	case outcomeInvalid:
		e.audit(inboundAudit(contact.Phone, event, contact.CurrentNodeID))
		if err := e.store.SaveContact(*contact); err != nil {
			slog.Error("Flow engine failed to save contact before reprompt", "error", err, "phone", contact.Phone)
		}
		slog.Debug("Flow engine invalid response, resending prompt", "phone", contact.Phone, "nodeID", contact.CurrentNodeID)
		return e.executeFrom(ctx, contact, f, contact.CurrentNodeID)

	case outcomeValid:
		e.audit(inboundAudit(contact.Phone, event, contact.CurrentNodeID))
		if out.saveAs != "" {
			if contact.Variables == nil {
				contact.Variables = make(map[string]string)
			}
			contact.Variables[out.saveAs] = out.value
			if out.saveAs == VarName {
				contact.Name = out.value
			}
			slog.Debug("Flow engine saved variable", "phone", contact.Phone, "variable", out.saveAs)
		}
		// The accepted answer is made durable before the next node runs, so a
		// failed send never loses collected data.
		if err := e.store.SaveContact(*contact); err != nil {
			slog.Error("Flow engine failed to persist accepted answer", "error", err, "phone", contact.Phone)
			return nil
		}
		return e.executeFrom(ctx, contact, f, out.next)
	}
	return nil
}

// getOrCreateContact loads the conversation state for an address, creating a
// fresh BOT record on first contact.
func (e *Engine) getOrCreateContact(address string) (*models.Contact, error) {
	contact, err := e.store.GetContact(address)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		contact = &models.Contact{
			Phone:     address,
			Status:    models.ContactStatusBot,
			Variables: make(map[string]string),
			Tags:      []string{},
		}
		slog.Info("Flow engine created contact", "phone", address)
	}
	if contact.Variables == nil {
		contact.Variables = make(map[string]string)
	}
	return contact, nil
}

// startSession places a conversation with no current node into a flow and
// executes its entry node. The triggering event is consumed as the
// session-starting signal, not as an answer; the returned boolean makes
// that explicit for the dispatch loop.
func (e *Engine) startSession(ctx context.Context, contact *models.Contact, event models.InboundEvent) (bool, error) {
	var f *models.Flow
	var err error

	if keyword := strings.TrimSpace(event.Text); keyword != "" {
		f, err = e.store.GetFlowByTrigger(keyword)
		if err != nil {
			slog.Error("Flow engine trigger lookup failed", "error", err, "phone", contact.Phone)
		}
		if f != nil {
			slog.Info("Flow engine selected flow by trigger keyword", "flowID", f.ID, "phone", contact.Phone)
		}
	}
	if f == nil {
		f, err = e.store.GetActiveFlow()
		if err != nil {
			slog.Error("Flow engine active flow lookup failed", "error", err, "phone", contact.Phone)
			return true, nil
		}
	}
	if f == nil {
		slog.Warn("Flow engine has no active flow, staying silent", "phone", contact.Phone)
		e.audit(inboundAudit(contact.Phone, event, ""))
		if err := e.store.SaveContact(*contact); err != nil {
			slog.Error("Flow engine failed to save contact without active flow", "error", err, "phone", contact.Phone)
		}
		return true, nil
	}

	entry := models.EntryNodeID
	returning := len(contact.Variables) > 0 || contact.HasTag(TagRepeatContact)
	if returning {
		if _, ok := f.Node(models.RecurrenceNodeID); ok {
			entry = models.RecurrenceNodeID
		}
		contact.MergeTags([]string{TagRepeatContact})
		slog.Info("Flow engine returning participant", "phone", contact.Phone, "entry", entry)
	}
	if contact.Status == models.ContactStatusDisqualified {
		contact.Variables[VarPreviouslyDisqualified] = "true"
		slog.Info("Flow engine re-entry after disqualification", "phone", contact.Phone)
	}

	contact.Status = models.ContactStatusBot
	contact.CurrentFlowID = f.ID

	e.audit(inboundAudit(contact.Phone, event, ""))
	if err := e.store.SaveContact(*contact); err != nil {
		slog.Error("Flow engine failed to persist session start", "error", err, "phone", contact.Phone)
		return true, nil
	}
	slog.Info("Flow engine session started", "phone", contact.Phone, "flowID", f.ID, "entry", entry)
	return true, e.executeFrom(ctx, contact, f, entry)
}

// executeFrom runs the state machine starting at nodeID: message nodes send
// and chain automatically, question nodes send their prompt and suspend,
// handover and disqualify nodes terminate automated flow. State is persisted
// only after the sends of a step succeed, so a conversation is never left a
// node ahead of what the participant actually saw.
func (e *Engine) executeFrom(ctx context.Context, contact *models.Contact, f *models.Flow, nodeID string) error {
	lastExecuted := contact.CurrentNodeID
	for steps := 0; ; steps++ {
		if steps >= e.opts.MaxChainLength {
			slog.Error("Flow engine chain guard tripped, graph chains too long",
				"flowID", f.ID, "nodeID", nodeID, "maxChainLength", e.opts.MaxChainLength, "phone", contact.Phone)
			// The conversation stays suspended on the last node that actually
			// ran, so the next inbound event resumes there instead of
			// restarting the flow from its entry.
			if lastExecuted != "" {
				contact.CurrentNodeID = lastExecuted
			}
			if err := e.store.SaveContact(*contact); err != nil {
				slog.Error("Flow engine failed to save contact after chain guard", "error", err, "phone", contact.Phone)
			}
			return fmt.Errorf("automatic chain exceeded %d nodes in flow %s", e.opts.MaxChainLength, f.ID)
		}

		node, ok := f.Node(nodeID)
		if !ok {
			slog.Error("Flow engine resolution error during execution", "flowID", f.ID, "nodeID", nodeID, "phone", contact.Phone)
			return fmt.Errorf("node %q not found in flow %s", nodeID, f.ID)
		}

		content := Substitute(node.Content, contact.Variables)
		slog.Debug("Flow engine executing node", "phone", contact.Phone, "nodeID", nodeID, "type", node.Type)

		switch node.Type {
		case models.NodeTypeMessage:
			providerID, err := e.sender.SendText(ctx, contact.Phone, content)
			if err != nil {
				slog.Error("Flow engine message send failed", "error", err, "phone", contact.Phone, "nodeID", nodeID)
				return err
			}
			e.audit(outboundAudit(contact.Phone, content, models.MessageTypeText, nodeID, providerID))
			lastExecuted = nodeID
			nodeID = node.NextNode
			e.pause(ctx)

		case models.NodeTypeQuestion:
			if err := e.sendQuestion(ctx, contact, node, nodeID, content); err != nil {
				slog.Error("Flow engine question send failed", "error", err, "phone", contact.Phone, "nodeID", nodeID)
				return err
			}
			contact.CurrentNodeID = nodeID
			if err := e.store.SaveContact(*contact); err != nil {
				slog.Error("Flow engine failed to persist suspension", "error", err, "phone", contact.Phone, "nodeID", nodeID)
				return err
			}
			slog.Debug("Flow engine suspended on question", "phone", contact.Phone, "nodeID", nodeID)
			return nil

		case models.NodeTypeHandover:
			providerID, err := e.sender.SendText(ctx, contact.Phone, content)
			if err != nil {
				slog.Error("Flow engine handover send failed", "error", err, "phone", contact.Phone, "nodeID", nodeID)
				return err
			}
			e.audit(outboundAudit(contact.Phone, content, models.MessageTypeText, nodeID, providerID))
			contact.MergeTags(node.Tags)
			contact.Status = models.ContactStatusHuman
			contact.CurrentNodeID = ""
			if err := e.store.SaveContact(*contact); err != nil {
				slog.Error("Flow engine failed to persist handover", "error", err, "phone", contact.Phone)
				return err
			}
			slog.Info("Flow engine handed conversation to human", "phone", contact.Phone, "tags", contact.Tags)
			e.notifyHandover(ctx, contact)
			return nil

		case models.NodeTypeDisqualify:
			providerID, err := e.sender.SendText(ctx, contact.Phone, content)
			if err != nil {
				slog.Error("Flow engine disqualify send failed", "error", err, "phone", contact.Phone, "nodeID", nodeID)
				return err
			}
			e.audit(outboundAudit(contact.Phone, content, models.MessageTypeText, nodeID, providerID))
			contact.Status = models.ContactStatusDisqualified
			contact.CurrentNodeID = ""
			if err := e.store.SaveContact(*contact); err != nil {
				slog.Error("Flow engine failed to persist disqualification", "error", err, "phone", contact.Phone)
				return err
			}
			slog.Info("Flow engine disqualified conversation", "phone", contact.Phone, "nodeID", nodeID)
			return nil

		default:
			slog.Error("Flow engine found unknown node kind", "flowID", f.ID, "nodeID", nodeID, "type", node.Type)
			return fmt.Errorf("node %q in flow %s has unknown kind %q", nodeID, f.ID, node.Type)
		}
	}
}

// sendQuestion dispatches a question node: a plain prompt for free text, a
// single choice prompt for small option sets, and batched prompts for large
// ones. Each message actually sent gets its own audit entry so the log
// mirrors exactly what the participant saw.
func (e *Engine) sendQuestion(ctx context.Context, contact *models.Contact, node models.Node, nodeID, content string) error {
	if !node.HasOptions() {
		providerID, err := e.sender.SendText(ctx, contact.Phone, content)
		if err != nil {
			return err
		}
		e.audit(outboundAudit(contact.Phone, content, models.MessageTypeText, nodeID, providerID))
		return nil
	}

	choices := make([]whatsapp.Choice, 0, len(node.Options))
	for _, opt := range node.Options {
		label := opt.Label
		if opt.Title != "" {
			label = opt.Title
		}
		choices = append(choices, whatsapp.Choice{ID: opt.ID, Label: label})
	}
	prompt := messaging.ChoicePrompt{
		Body:    content,
		Title:   Substitute(node.Title, contact.Variables),
		Footer:  Substitute(node.Footer, contact.Variables),
		Choices: choices,
		AsList:  node.Title != "",
	}
	ids, err := e.sender.SendChoicePrompt(ctx, contact.Phone, prompt)
	if err != nil {
		return err
	}

	msgType := models.MessageTypeButton
	if prompt.AsList && len(ids) == 1 && len(choices) > messaging.MaxReplyButtons {
		msgType = models.MessageTypeList
	}
	for i, id := range ids {
		body := content
		if i > 0 {
			body = messaging.ContinuationPromptBody
		}
		e.audit(outboundAudit(contact.Phone, body, msgType, nodeID, id))
	}
	return nil
}

// pause sleeps for the configured inter-send delay, respecting cancellation.
func (e *Engine) pause(ctx context.Context) {
	if e.opts.SendDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(e.opts.SendDelay):
	}
}

// MarkHumanTakeover flips a conversation to HUMAN outside the graph, exactly
// as a handover node would but without running any node content. Idempotent:
// a conversation already attended by a human is left untouched.
func (e *Engine) MarkHumanTakeover(ctx context.Context, address string) error {
	lock := e.lockFor(address)
	lock.Lock()
	defer lock.Unlock()

	contact, err := e.getOrCreateContact(address)
	if err != nil {
		return fmt.Errorf("failed to load contact for takeover: %w", err)
	}
	return e.takeOverLocked(contact)
}

// takeOverLocked performs the HUMAN transition. Callers hold the address lock.
func (e *Engine) takeOverLocked(contact *models.Contact) error {
	if contact.Status == models.ContactStatusHuman {
		slog.Debug("Flow engine takeover no-op, already human", "phone", contact.Phone)
		return nil
	}
	contact.Status = models.ContactStatusHuman
	contact.CurrentNodeID = ""
	contact.LastInteractionAt = time.Now()
	if err := e.store.SaveContact(*contact); err != nil {
		return fmt.Errorf("failed to persist human takeover for %s: %w", contact.Phone, err)
	}
	slog.Info("Flow engine marked human takeover", "phone", contact.Phone)
	return nil
}

// audit appends one record to the message log. The log is best effort
// relative to flow progress: a failed append is logged, never escalated.
func (e *Engine) audit(m models.Message) {
	if err := e.store.AddMessage(m); err != nil {
		slog.Warn("Flow engine failed to append audit record", "error", err, "phone", m.ContactPhone)
	}
}

func inboundAudit(phone string, event models.InboundEvent, nodeID string) models.Message {
	content := event.Text
	msgType := models.MessageTypeText
	if event.HasSelection() {
		content = event.SelectedText
		if content == "" {
			content = event.SelectedOptionID
		}
		msgType = models.MessageTypeButton
	}
	return models.Message{
		ContactPhone:      phone,
		Direction:         models.DirectionIn,
		Content:           content,
		Type:              msgType,
		NodeID:            nodeID,
		ProviderMessageID: event.MessageID,
	}
}

func outboundAudit(phone, content string, msgType models.MessageType, nodeID, providerID string) models.Message {
	return models.Message{
		ContactPhone:      phone,
		Direction:         models.DirectionOut,
		Content:           content,
		Type:              msgType,
		NodeID:            nodeID,
		ProviderMessageID: providerID,
	}
}
