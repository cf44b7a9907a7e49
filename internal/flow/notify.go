package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/gsPatrick/bot-medico-api/internal/models"
)

// notifyHandover fans a summary of the conversation out to every enabled
// notification recipient. It runs after the HUMAN transition is durable;
// per-recipient failures are logged and never block the remaining
// recipients or roll anything back.
func (e *Engine) notifyHandover(ctx context.Context, contact *models.Contact) {
	recipients, err := e.store.ListEnabledNotificationRecipients()
	if err != nil {
		slog.Error("Flow engine failed to list notification recipients", "error", err, "phone", contact.Phone)
		return
	}
	if len(recipients) == 0 {
		slog.Debug("Flow engine has no enabled notification recipients", "phone", contact.Phone)
		return
	}

	summary := e.handoverSummary(contact)
	delivered := 0
	for _, r := range recipients {
		if _, err := e.sender.SendText(ctx, r.Phone, summary); err != nil {
			slog.Warn("Flow engine handover notification failed", "error", err, "recipient", r.Name, "phone", r.Phone)
			continue
		}
		delivered++
	}
	slog.Info("Flow engine handover notifications sent", "phone", contact.Phone, "delivered", delivered, "recipients", len(recipients))
}

// handoverSummary renders the human-readable handover notification body.
func (e *Engine) handoverSummary(contact *models.Contact) string {
	var b strings.Builder
	b.WriteString("🔔 *Novo atendimento transferido!*\n\n")

	name := contact.Name
	if name == "" {
		name = "Não informado"
	}
	fmt.Fprintf(&b, "*Cliente:* %s\n", name)
	fmt.Fprintf(&b, "*Telefone:* %s\n", contact.Phone)
	if len(contact.Tags) > 0 {
		fmt.Fprintf(&b, "*Tags:* %s\n", strings.Join(contact.Tags, ", "))
	}

	if len(contact.Variables) > 0 {
		b.WriteString("\n*Respostas coletadas:*\n")
		keys := make([]string, 0, len(contact.Variables))
		for k := range contact.Variables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "• %s: %s\n", humanizeKey(k), contact.Variables[k])
		}
	}

	if e.opts.DashboardURL != "" {
		fmt.Fprintf(&b, "\nAtenda em: %s/chat/%s", strings.TrimRight(e.opts.DashboardURL, "/"), strings.TrimPrefix(contact.Phone, "+"))
	}
	return b.String()
}
