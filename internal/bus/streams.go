package bus

import (
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamConfigs are the JetStream streams the daemon provisions when event
// publishing is enabled.
var StreamConfigs = []jetstream.StreamConfig{
	{
		Name:        "CORRAL_EVENTS",
		Description: "Request outcomes and observed container lifecycle events",
		Subjects:    []string{SubjectAllEvents},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
	},
}
