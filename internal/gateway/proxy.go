package gateway

import (
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/fechatter/fechatter/internal/apiutil"
	"github.com/fechatter/fechatter/internal/models"
)

// proxyHandler is the gateway's catch-all handler: resolve a route, apply
// its auth requirement, pick a live upstream server, and forward the
// request with bounded retries on idempotent methods.
func (s *Server) proxyHandler(w http.ResponseWriter, r *http.Request) {
	rt := s.table.match(r)
	if rt == nil {
		apiutil.WriteError(w, r, http.StatusNotFound, "NotFound", "no route matches this path")
		return
	}

	if rt.authRequired {
		claims, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		r.Header.Set("X-Fechatter-User-Id", claims.UserID.String())
		r.Header.Set("X-Fechatter-Workspace-Id", claims.WorkspaceID.String())
	}

	s.forward(w, r, rt)
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request, rt *route) {
	attempts := rt.upstream.retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := time.Duration(rt.upstream.retry.BackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		srv, err := rt.upstream.pick()
		if err != nil {
			lastErr = err
			break
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		proxy := s.newReverseProxy(srv, rt, isSSE(r))
		proxy.ServeHTTP(rec, r)

		idempotent := r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions
		if idempotent && rec.status >= 500 && isRetryableStatus(rt.upstream.retry.RetryOnStatus, rec.status) && attempt < attempts-1 && !rec.wroteBody {
			srv.breaker.recordFailure()
			time.Sleep(backoff)
			continue
		}
		if rec.status >= 500 {
			srv.breaker.recordFailure()
		} else {
			srv.breaker.recordSuccess()
		}
		return
	}

	if lastErr == nil {
		lastErr = errNoHealthyServer
	}
	apiutil.WriteError(w, r, models.KindUpstreamUnavailable.HTTPStatus(), "UpstreamUnavailable", lastErr.Error())
}

func isRetryableStatus(configured []int, status int) bool {
	if len(configured) == 0 {
		return status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout
	}
	for _, s := range configured {
		if s == status {
			return true
		}
	}
	return false
}

// newReverseProxy builds a one-shot httputil.ReverseProxy targeting srv. SSE
// routes (detected by an Accept: text/event-stream request header, matching
// how internal/notify's clients request a stream) disable response
// buffering so events flush to the client as they arrive.
func (s *Server) newReverseProxy(srv *upstreamServer, rt *route, sse bool) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(srv.url)
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = srv.url.Host
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.logger.Warn("gateway: proxy error", "upstream", rt.upstream.name, "server", srv.url.String(), "error", err)
		if rec, ok := w.(*statusRecorder); ok {
			rec.status = http.StatusBadGateway
		}
		apiutil.WriteError(w, r, http.StatusBadGateway, "UpstreamUnavailable", "upstream request failed")
	}
	if sse {
		proxy.FlushInterval = -1
	}
	return proxy
}

func isSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// statusRecorder captures the status code and whether any body bytes were
// written, so forward can decide whether a failed attempt is safe to retry
// (retrying after partial output would corrupt the response).
type statusRecorder struct {
	http.ResponseWriter
	status    int
	wroteBody bool
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if len(b) > 0 {
		r.wroteBody = true
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
