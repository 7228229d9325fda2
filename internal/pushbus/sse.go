package pushbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ServeSSE writes Messages from the bus to w as a text/event-stream,
// filtered to a single event id, until the request context is
// cancelled (client disconnect) or the bus subscription is closed.
// Grounded on spec.md §6's "Push bus (SSE or equivalent)" requirement.
func ServeSSE(bus Bus, logger *slog.Logger, w http.ResponseWriter, r *http.Request, eventID string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("pushbus: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := bus.Subscribe(64)
	defer bus.Unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub:
			if !ok {
				return nil
			}
			if msg.EventID != eventID {
				continue
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				logger.Error("pushbus: marshal sse message", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, payload); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
