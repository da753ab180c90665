// metrics.go implements a lightweight Prometheus text-exposition endpoint
// without taking on the prometheus/client_golang dependency: nothing in the
// example pack's go.mod set pulls it in, and the counters needed here are
// few enough that atomic.Int64 plus fmt.Fprintf covers the format exactly.
package api

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics tracks process-lifetime counters surfaced at /metrics.
type Metrics struct {
	HTTPRequestsTotal  atomic.Int64
	SSEConnectionsTotal atomic.Int64
	SSEConnectionsCurr  atomic.Int64
	MessagesSentTotal  atomic.Int64
	StartTime          time.Time
}

// GlobalMetrics is the process-wide counter set.
var GlobalMetrics = &Metrics{StartTime: time.Now()}

// handleMetrics exposes Prometheus-compatible metrics in text exposition
// format. GET /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := GlobalMetrics
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var userCount, chatCount, messageCount int64
	s.DB.Pool.QueryRow(r.Context(), `SELECT COUNT(*) FROM users`).Scan(&userCount)
	s.DB.Pool.QueryRow(r.Context(), `SELECT COUNT(*) FROM chats`).Scan(&chatCount)
	s.DB.Pool.QueryRow(r.Context(), `SELECT COUNT(*) FROM messages`).Scan(&messageCount)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# HELP fechatter_http_requests_total Total HTTP requests served.\n")
	fmt.Fprintf(w, "# TYPE fechatter_http_requests_total counter\n")
	fmt.Fprintf(w, "fechatter_http_requests_total %d\n\n", m.HTTPRequestsTotal.Load())

	fmt.Fprintf(w, "# HELP fechatter_sse_connections_total Total SSE connections opened.\n")
	fmt.Fprintf(w, "# TYPE fechatter_sse_connections_total counter\n")
	fmt.Fprintf(w, "fechatter_sse_connections_total %d\n\n", m.SSEConnectionsTotal.Load())

	fmt.Fprintf(w, "# HELP fechatter_sse_connections_current Current open SSE connections.\n")
	fmt.Fprintf(w, "# TYPE fechatter_sse_connections_current gauge\n")
	fmt.Fprintf(w, "fechatter_sse_connections_current %d\n\n", m.SSEConnectionsCurr.Load())

	fmt.Fprintf(w, "# HELP fechatter_messages_sent_total Total messages accepted by the chat service.\n")
	fmt.Fprintf(w, "# TYPE fechatter_messages_sent_total counter\n")
	fmt.Fprintf(w, "fechatter_messages_sent_total %d\n\n", m.MessagesSentTotal.Load())

	fmt.Fprintf(w, "# HELP fechatter_users_total Total registered users.\n")
	fmt.Fprintf(w, "# TYPE fechatter_users_total gauge\n")
	fmt.Fprintf(w, "fechatter_users_total %d\n\n", userCount)

	fmt.Fprintf(w, "# HELP fechatter_chats_total Total chats.\n")
	fmt.Fprintf(w, "# TYPE fechatter_chats_total gauge\n")
	fmt.Fprintf(w, "fechatter_chats_total %d\n\n", chatCount)

	fmt.Fprintf(w, "# HELP fechatter_messages_total Total messages stored.\n")
	fmt.Fprintf(w, "# TYPE fechatter_messages_total gauge\n")
	fmt.Fprintf(w, "fechatter_messages_total %d\n\n", messageCount)

	fmt.Fprintf(w, "# HELP fechatter_goroutines Current number of goroutines.\n")
	fmt.Fprintf(w, "# TYPE fechatter_goroutines gauge\n")
	fmt.Fprintf(w, "fechatter_goroutines %d\n\n", runtime.NumGoroutine())

	fmt.Fprintf(w, "# HELP fechatter_memory_alloc_bytes Current memory allocation in bytes.\n")
	fmt.Fprintf(w, "# TYPE fechatter_memory_alloc_bytes gauge\n")
	fmt.Fprintf(w, "fechatter_memory_alloc_bytes %d\n\n", mem.Alloc)

	uptime := time.Since(m.StartTime).Seconds()
	fmt.Fprintf(w, "# HELP fechatter_uptime_seconds Time since server start.\n")
	fmt.Fprintf(w, "# TYPE fechatter_uptime_seconds gauge\n")
	fmt.Fprintf(w, "fechatter_uptime_seconds %f\n", uptime)
}
