package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/fechatter/fechatter/internal/apiutil"
)

// ServiceHealth is the health status of one dependency checked by the deep
// readiness probe.
type ServiceHealth struct {
	Status  string `json:"status"` // "healthy", "unhealthy", "disabled"
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ReadinessResponse is the response body for GET /health/readiness.
type ReadinessResponse struct {
	Status    string                   `json:"status"`
	Version   string                   `json:"version"`
	Timestamp string                   `json:"timestamp"`
	Services  map[string]ServiceHealth `json:"services"`
	System    SystemInfo               `json:"system"`
}

// SystemInfo carries runtime information about the serving process.
type SystemInfo struct {
	GoVersion    string  `json:"go_version"`
	NumGoroutine int     `json:"num_goroutine"`
	NumCPU       int     `json:"num_cpu"`
	MemAllocMB   float64 `json:"mem_alloc_mb"`
}

// handleReadiness checks every dependency the chat service needs to serve
// traffic correctly: Postgres, Meilisearch, and object storage. A dependency
// with no configured client reports "disabled" rather than failing the
// overall check, since not every deployment runs every service.
//
// GET /health/readiness
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	services := make(map[string]ServiceHealth)
	overall := "ok"
	timeout := 5 * time.Second

	dbHealth := s.checkHealth(timeout, func(ctx context.Context) error {
		return s.DB.HealthCheck(ctx)
	})
	services["database"] = dbHealth
	if dbHealth.Status == "unhealthy" {
		overall = "unhealthy"
	}

	if s.Search != nil {
		h := s.checkHealth(timeout, s.Search.HealthCheck)
		services["search"] = h
		if h.Status == "unhealthy" && overall == "ok" {
			overall = "degraded"
		}
	} else {
		services["search"] = ServiceHealth{Status: "disabled"}
	}

	if s.Media != nil {
		h := s.checkHealth(timeout, s.Media.HealthCheck)
		services["storage"] = h
		if h.Status == "unhealthy" && overall == "ok" {
			overall = "degraded"
		}
	} else {
		services["storage"] = ServiceHealth{Status: "disabled"}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := ReadinessResponse{
		Status:    overall,
		Version:   s.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
		System: SystemInfo{
			GoVersion:    runtime.Version(),
			NumGoroutine: runtime.NumGoroutine(),
			NumCPU:       runtime.NumCPU(),
			MemAllocMB:   float64(mem.Alloc) / 1024 / 1024,
		},
	}

	status := http.StatusOK
	if overall != "ok" {
		status = http.StatusServiceUnavailable
	}
	apiutil.WriteJSONRaw(w, status, resp)
}

func (s *Server) checkHealth(timeout time.Duration, check func(context.Context) error) ServiceHealth {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	latency := time.Since(start)

	if err != nil {
		return ServiceHealth{Status: "unhealthy", Latency: latency.String(), Error: fmt.Sprintf("%v", err)}
	}
	return ServiceHealth{Status: "healthy", Latency: latency.String()}
}
