package messaging

import (
	"context"
	"log/slog"

	"github.com/gsPatrick/bot-medico-api/internal/models"
)

// EventProcessor consumes inbound conversation events. Defined here rather
// than importing the flow package to avoid a circular dependency.
type EventProcessor interface {
	HandleEvent(ctx context.Context, event models.InboundEvent) error
}

// Dispatcher pumps inbound events from a messaging service into an event
// processor. Events are handled inline on the dispatch goroutine, so events
// from the same address reach the processor in arrival order and the work
// for one event completes before the next is admitted.
type Dispatcher struct {
	service   Service
	processor EventProcessor
}

// NewDispatcher creates a dispatcher connecting the given service and processor.
func NewDispatcher(service Service, processor EventProcessor) *Dispatcher {
	return &Dispatcher{service: service, processor: processor}
}

// Start runs the dispatch loop until the context is cancelled or the event
// channel closes. It blocks; callers run it on a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("Dispatcher starting event loop")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher stopping due to context cancellation")
			return
		case event, ok := <-d.service.Events():
			if !ok {
				slog.Info("Dispatcher stopping, event channel closed")
				return
			}
			// A fromMe event whose id the service itself produced is an echo
			// of our own send, not an operator message.
			if event.IsFromSelf && d.service.WasSentBySelf(event.MessageID) {
				slog.Debug("Dispatcher dropping echo of own message", "messageID", event.MessageID)
				continue
			}
			if err := d.processor.HandleEvent(ctx, event); err != nil {
				slog.Error("Dispatcher event processing failed", "error", err, "from", event.From)
			}
		}
	}
}
