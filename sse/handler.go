package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/skillsenselab/voxpipe/logger"
)

// ConnectedEvent is the first payload sent on a new stream.
type ConnectedEvent struct {
	ClientID string `json:"client_id"`
}

// ServeSSE handles one SSE connection: registers the client, streams its
// events, and keeps the connection alive through proxies. Returns when the
// client disconnects or the hub shuts down.
func ServeSSE(hub *Hub, w http.ResponseWriter, r *http.Request, clientID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// SSE connections are long-lived and must not be killed by the
	// server's write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		logger.Warn("sse could not disable write deadline",
			logger.Fields("client_id", clientID, logger.FieldError, err.Error()))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := NewClient(clientID)
	hub.Register(client)
	defer hub.Unregister(client)

	connectedData, _ := json.Marshal(ConnectedEvent{ClientID: clientID})
	_, _ = fmt.Fprintf(w, "event: %s\n", EventTypeConnected)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", connectedData)
	flusher.Flush()

	// Keep-alive interval must stay below typical proxy timeouts (60s).
	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-client.Events():
			if !ok {
				return
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", event)
			flusher.Flush()

		case <-keepAlive.C:
			_, _ = fmt.Fprintf(w, ": %s %d\n\n", EventTypeKeepAlive, time.Now().Unix())
			flusher.Flush()
		}
	}
}
