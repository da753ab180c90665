package gateway

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fechatter/fechatter/internal/apiutil"
	"github.com/fechatter/fechatter/internal/config"
	"github.com/fechatter/fechatter/internal/models"
)

const rateLimitWindow = time.Minute

// rateLimitMiddleware enforces the per-tier request budget from
// config.GatewayRateLimitConfig using the cache's fixed-window counter
// (cache.Client.CheckRateLimitInfo, one-minute window). Unauthenticated
// requests are keyed by IP and billed against the Standard tier; requests
// carrying a valid access token are billed against Premium, keyed by user;
// an admin-prefixed path is billed against Admin regardless of caller.
func (s *Server) rateLimitMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.cache == nil {
				next.ServeHTTP(w, r)
				return
			}

			key, limit := s.rateLimitKeyAndLimit(r)
			result, err := s.cache.CheckRateLimitInfo(r.Context(), key, limit, rateLimitWindow)
			if err != nil {
				s.logger.Debug("gateway: rate limit check failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(rateLimitWindow.Seconds())))
				apiutil.WriteError(w, r, models.KindBackpressure.HTTPStatus(), "RateLimited", "rate limit exceeded, retry later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) rateLimitKeyAndLimit(r *http.Request) (string, int) {
	tiers := s.cfg.RateLimit
	if isAdminPath(r.URL.Path) {
		return "gw:admin:" + clientIP(r), tierLimit(tiers.Admin, 6000)
	}
	if token := extractBearerToken(r); token != "" {
		if claims, err := s.auth.VerifyAccess(token); err == nil {
			return "gw:premium:" + claims.UserID.String(), tierLimit(tiers.Premium, 3000)
		}
	}
	return "gw:standard:" + clientIP(r), tierLimit(tiers.Standard, 600)
}

func tierLimit(tier config.RateLimitTier, fallback int) int {
	if tier.RequestsPerMinute <= 0 {
		return fallback
	}
	return tier.RequestsPerMinute
}

func isAdminPath(path string) bool {
	return strings.HasPrefix(path, "/admin")
}

// clientIP mirrors the teacher's own extraction: chi's RealIP middleware
// already normalizes r.RemoteAddr from trusted proxy headers, so this just
// strips the port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
