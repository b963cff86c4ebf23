package toolgate

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures the Client.
type Option func(*Client)

// WithServerAddr sets the gateway base URL,
// e.g. "http://127.0.0.1:8080". Overrides TOOLGATE_SERVER_ADDR.
func WithServerAddr(addr string) Option {
	return func(c *Client) {
		c.serverAddr = addr
	}
}

// WithToken sets the bearer token. Overrides TOOLGATE_TOKEN.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout sets the per-request timeout. Overrides TOOLGATE_TIMEOUT.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client. The client's own
// timeout applies; WithTimeout is ignored.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithToolsCacheTTL sets how long ListTools results are served from
// cache. Zero disables caching. Overrides TOOLGATE_TOOLS_CACHE_TTL.
func WithToolsCacheTTL(d time.Duration) Option {
	return func(c *Client) {
		c.toolsCacheTTL = d
	}
}
