package gateway

import (
	"context"
	"net/http"
	"time"
)

// probe issues a GET against url and reports whether it returned a 2xx
// status within timeout. Any transport error or non-2xx counts as unhealthy.
func probe(url string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
