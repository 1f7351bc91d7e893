package sse

// Infrastructure-level SSE event names. Domain event payloads carry their own
// type field; these only cover the connection protocol itself.
const (
	// EventTypeConnected is sent once when a client connects.
	EventTypeConnected = "connected"

	// EventTypeKeepAlive is the comment line keeping proxies from closing
	// idle streams.
	EventTypeKeepAlive = "keepalive"
)
