package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fechatter/fechatter/internal/models"
)

// ServeSSE upgrades the request to a long-lived text/event-stream response
// and blocks until the client disconnects, the request context is canceled,
// or the connection is evicted for lagging. userID has already been
// authenticated by the caller (internal/httpapi); ServeSSE only owns the
// wire framing and fan-out registration.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, userID models.ULID) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("notify: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	conn := newConnection(newConnID(), userID, h.limits.QueueDepth)
	h.registry.add(conn)
	h.presence.markOnline(context.Background(), userID)
	defer func() {
		h.registry.remove(conn)
		conn.Close()
		h.presence.markOffline(context.Background(), userID)
	}()

	heartbeat := time.NewTicker(h.limits.HeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.closedCh:
			writeFrame(w, "lagging", []byte(`{"reason":"queue_overflow"}`), "")
			flusher.Flush()
			return nil
		case env := <-conn.queue:
			if err := writeEnvelope(w, env); err != nil {
				return err
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return err
			}
			flusher.Flush()
			if err := h.cache.SetPresence(ctx, userID.String(), presenceTTL); err != nil {
				h.logger.Debug("notify: refresh presence failed", "user_id", userID.String(), "error", err)
			}
		}
	}
}

func writeEnvelope(w http.ResponseWriter, env models.EventEnvelope) error {
	return writeFrame(w, env.Subject, env.Payload, env.EventID)
}

// writeFrame writes one SSE frame: "event: <name>\ndata: <json>\nid:
// <id>\n\n". data is written as-is except that it is split on newlines into
// one data: line per line, since SSE frames may not contain raw newlines in
// a single data: line; empty data is written as "{}".
func writeFrame(w http.ResponseWriter, event string, data []byte, id string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	for _, line := range splitLines(data) {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

func splitLines(data []byte) [][]byte {
	if len(data) == 0 {
		return [][]byte{[]byte("{}")}
	}
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	lines = append(lines, data[start:])
	return lines
}
