package bus

import "strings"

// Subject hierarchy.
const (
	SubjectRequests   = "corral.requests"
	SubjectEventsBase = "corral.events"
	SubjectAllEvents  = SubjectEventsBase + ".>"

	DefaultQueueGroup = "corral"

	// HeaderEncoding carries the payload encoding on request messages.
	HeaderEncoding = "Corral-Encoding"
)

// EventSubject returns the subject an event type is published on, e.g.
// "command.completed" -> "corral.events.command.completed".
func EventSubject(eventType string) string {
	return SubjectEventsBase + "." + strings.Trim(eventType, ".")
}
