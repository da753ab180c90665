package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/fechatter/fechatter/internal/config"
)

// route is one resolved entry in the route table: a path pattern paired
// with the upstream pool that serves it.
type route struct {
	pathPattern  string
	methods      map[string]bool
	upstream     *upstreamPool
	corsOrigins  []string
	authRequired bool
}

// matchesMethod reports whether r allows method, or allows every method when
// no methods were configured.
func (r *route) matchesMethod(method string) bool {
	if len(r.methods) == 0 {
		return true
	}
	return r.methods[strings.ToUpper(method)]
}

// routeTable resolves a request path to a route by longest-prefix match,
// the same resolution order as a filesystem router: more specific prefixes
// win over general ones regardless of declaration order.
type routeTable struct {
	routes    []*route
	upstreams []*upstreamPool
}

func buildRouteTable(cfg config.GatewayConfig, logger *slog.Logger) (*routeTable, error) {
	pools := make(map[string]*upstreamPool, len(cfg.Upstreams))
	table := &routeTable{}
	for _, u := range cfg.Upstreams {
		pool, err := newUpstreamPool(u)
		if err != nil {
			return nil, fmt.Errorf("upstream %q: %w", u.Name, err)
		}
		pools[u.Name] = pool
		table.upstreams = append(table.upstreams, pool)
	}

	for _, r := range cfg.Routes {
		pool, ok := pools[r.Upstream]
		if !ok {
			return nil, fmt.Errorf("route %q references unknown upstream %q", r.PathPattern, r.Upstream)
		}
		methods := make(map[string]bool, len(r.Methods))
		for _, m := range r.Methods {
			methods[strings.ToUpper(m)] = true
		}
		table.routes = append(table.routes, &route{
			pathPattern:  r.PathPattern,
			methods:      methods,
			upstream:     pool,
			corsOrigins:  r.CORSOrigins,
			authRequired: r.AuthRequired,
		})
	}

	// Longest prefix first so match() can return on the first hit.
	sort.SliceStable(table.routes, func(i, j int) bool {
		return len(table.routes[i].pathPattern) > len(table.routes[j].pathPattern)
	})

	logger.Info("gateway: route table built", "routes", len(table.routes), "upstreams", len(table.upstreams))
	return table, nil
}

// match finds the longest path-pattern prefix of r's URL path among routes
// that also accept r's method. Returns nil if nothing matches.
func (t *routeTable) match(r *http.Request) *route {
	for _, rt := range t.routes {
		if strings.HasPrefix(r.URL.Path, rt.pathPattern) && rt.matchesMethod(r.Method) {
			return rt
		}
	}
	return nil
}
