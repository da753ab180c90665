package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/fechatter/fechatter/internal/config"
)

// upstreamServer is one physical backend in a pool: its parsed base URL, a
// circuit breaker, and a liveness flag flipped by the background health
// checker.
type upstreamServer struct {
	url     *url.URL
	breaker *breaker
	healthy atomic.Bool
}

// upstreamPool is a named, load-balanced group of backends sharing one
// retry and health-check policy, resolved from one config.UpstreamConfig.
type upstreamPool struct {
	name         string
	servers      []*upstreamServer
	loadBalancer string
	next         atomic.Uint64
	health       config.UpstreamHealthCheckConfig
	retry        config.UpstreamRetryConfig
	stop         chan struct{}
}

func newUpstreamPool(cfg config.UpstreamConfig) (*upstreamPool, error) {
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("no servers configured")
	}
	pool := &upstreamPool{
		name:         cfg.Name,
		loadBalancer: cfg.LoadBalancer,
		health:       cfg.HealthCheck,
		retry:        cfg.Retry,
		stop:         make(chan struct{}),
	}
	for _, raw := range cfg.Servers {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing server url %q: %w", raw, err)
		}
		srv := &upstreamServer{
			url:     u,
			breaker: newBreaker(cfg.CircuitBreaker),
		}
		srv.healthy.Store(true)
		pool.servers = append(pool.servers, srv)
	}
	return pool, nil
}

// errNoHealthyServer is returned when every server in a pool is either
// failing health checks or has its circuit breaker open.
var errNoHealthyServer = fmt.Errorf("gateway: no healthy upstream server available")

// pick selects the next server to forward a request to, skipping servers
// that are unhealthy or whose breaker is open. Selection is always
// round-robin; the pool's configured load_balancer value is not consulted.
func (p *upstreamPool) pick() (*upstreamServer, error) {
	n := uint64(len(p.servers))
	if n == 0 {
		return nil, errNoHealthyServer
	}
	start := p.next.Add(1)
	for i := uint64(0); i < n; i++ {
		idx := (start + i) % n
		srv := p.servers[idx]
		if srv.healthy.Load() && srv.breaker.allow() {
			return srv, nil
		}
	}
	return nil, errNoHealthyServer
}

func (p *upstreamPool) startHealthChecks(ctx context.Context, logger *slog.Logger) {
	interval := time.Duration(p.health.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 10 * time.Second
	}
	timeout := time.Duration(p.health.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	path := p.health.Path
	if path == "" {
		path = "/healthz"
	}

	for _, srv := range p.servers {
		go p.healthCheckLoop(ctx, srv, path, interval, timeout, logger)
	}
}

func (p *upstreamPool) healthCheckLoop(ctx context.Context, srv *upstreamServer, path string, interval, timeout time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			healthy := probe(srv.url.String()+path, timeout)
			if healthy != srv.healthy.Load() {
				logger.Info("gateway: upstream health changed", "upstream", p.name, "server", srv.url.String(), "healthy", healthy)
			}
			srv.healthy.Store(healthy)
		}
	}
}

func (p *upstreamPool) stopHealthChecks() {
	close(p.stop)
}
