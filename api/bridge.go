package api

import (
	"encoding/json"

	"github.com/skillsenselab/voxpipe/job"
	"github.com/skillsenselab/voxpipe/logger"
	"github.com/skillsenselab/voxpipe/sse"
)

// jobsPattern matches every SSE client subscribed to job events.
const jobsPattern = "jobs:*"

// EventBridge relays queue events onto the SSE hub so connected UIs see
// status and progress changes live. It implements job.Publisher and never
// blocks the queue loop.
type EventBridge struct {
	broadcaster sse.Broadcaster
	log         *logger.Logger
}

var _ job.Publisher = (*EventBridge)(nil)

// NewEventBridge creates a bridge publishing onto the given broadcaster.
func NewEventBridge(b sse.Broadcaster, log *logger.Logger) *EventBridge {
	return &EventBridge{
		broadcaster: b,
		log:         log.WithComponent("event-bridge"),
	}
}

// Publish implements job.Publisher.
func (b *EventBridge) Publish(ev job.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.log.Error("failed to encode job event", logger.ErrorFields("encode_event", err))
		return
	}
	b.broadcaster.BroadcastToPattern(jobsPattern, data)
}
