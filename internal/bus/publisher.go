package bus

import (
	"log/slog"

	"corral/internal/events"
)

// Publisher forwards emitted events to NATS, one subject per event type.
type Publisher struct {
	client *Client
	logger *slog.Logger
}

func NewPublisher(client *Client, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, logger: logger.With("component", "event-publisher")}
}

// Attach registers the publisher on the emitter and returns the handler ID.
func (p *Publisher) Attach(emitter *events.Emitter) int {
	return emitter.OnEvent(p.publish)
}

func (p *Publisher) publish(ev events.Event) {
	if err := p.client.PublishEvent(EventSubject(ev.Type), ev.Type, ev.CorrelationID, ev); err != nil {
		p.logger.Warn("publish event failed", "event", ev.Type, "error", err)
	}
}
