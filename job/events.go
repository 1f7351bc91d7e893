package job

import "time"

// EventType classifies queue events consumed by UI subscribers.
type EventType string

const (
	// EventStatus signals a status change.
	EventStatus EventType = "job.status"
	// EventProgress signals a progress fraction update.
	EventProgress EventType = "job.progress"
	// EventCancelled signals a user-initiated cancellation. Consumers
	// should not render the job's failed state as an error banner.
	EventCancelled EventType = "job.cancelled"
)

// Event carries a job snapshot at the moment of a change.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Job       Job       `json:"job"`
}

// Publisher receives queue events. Implementations must not block; the queue
// publishes from its worker loop.
type Publisher interface {
	Publish(Event)
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(Event) {}

// MultiPublisher fans each event out to every publisher in order.
type MultiPublisher []Publisher

// Publish implements Publisher.
func (m MultiPublisher) Publish(ev Event) {
	for _, p := range m {
		p.Publish(ev)
	}
}
