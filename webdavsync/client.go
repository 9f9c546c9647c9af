// Package webdavsync implements the WebDAV Client Core (C5): protocol
// detection, PROPFIND-based discovery, concurrent recursive traversal, and
// authenticated downloads with MIME re-detection, against a remote WebDAV
// server (Nextcloud, ownCloud, or generic).
package webdavsync

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/readur/readur/breaker"
)

// UserAgent is the fixed identification string sent on every request.
const UserAgent = "Readur/1.0 (WebDAV-Sync; +https://github.com/readur/readur)"

// ServerType determines href-to-relative-path translation and fallback URL
// candidates.
type ServerType string

const (
	ServerNextcloud   ServerType = "nextcloud"
	ServerOwnCloud    ServerType = "owncloud"
	ServerGeneric     ServerType = "generic"
	ServerWebDAVLevel3 ServerType = "webdav_level_3"
)

// Config describes one remote WebDAV source.
type Config struct {
	ServerURL           string
	Username            string
	Password            string
	WatchFolders        []string
	FileExtensions      []string
	Timeout             time.Duration
	InsecureSkipVerify  bool
	MaxConcurrentScans  int
	MaxConcurrentDownloads int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxConcurrentScans <= 0 {
		c.MaxConcurrentScans = 4
	}
	if c.MaxConcurrentDownloads <= 0 {
		c.MaxConcurrentDownloads = 4
	}
	return c
}

// ServerCapabilities is the outcome of the capabilities probe.
type ServerCapabilities struct {
	DAVLevel     string
	Allow        []string
	ServerHeader string
	ServerType   ServerType
}

// Client talks to one WebDAV source. Protocol (scheme) and ServerType are
// resolved by Connect and then cached for the client's lifetime.
// DiscoverRecursive calls Connect on entry; Download does not, so on a
// client that has not connected its request URLs carry no scheme.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retryCfg   breaker.RetryConfig
	log        *logrus.Logger

	scanSem     chan struct{}
	downloadSem chan struct{}

	scheme     string
	serverType ServerType
	caps       *ServerCapabilities
}

// New constructs a Client. Protocol and server-type detection run in
// Connect, which DiscoverRecursive calls on entry; call Connect directly to
// run them eagerly (e.g. at startup health-check time) or before Download.
func New(cfg Config, log *logrus.Logger) *Client {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}

	transport := &http.Transport{}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout, Transport: transport},
		retryCfg:    breaker.DefaultRetryConfig(),
		log:         log,
		scanSem:     make(chan struct{}, cfg.MaxConcurrentScans),
		downloadSem: make(chan struct{}, cfg.MaxConcurrentDownloads),
	}
}

// isConnectionError classifies transport-level failures (refused, DNS,
// TLS handshake, unreachable, timeout) as distinct from auth/protocol errors,
// matching the distinction the scheme-fallback decision depends on.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "no such host", "tls", "handshake",
		"unreachable", "timeout", "context deadline exceeded", "i/o timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Connect runs protocol detection (HTTPS first, HTTP fallback only on
// connection errors) followed by the capabilities probe, and caches both.
// Safe to call more than once; subsequent calls are no-ops once resolved.
func (c *Client) Connect(ctx context.Context) error {
	if c.scheme != "" && c.caps != nil {
		return nil
	}

	base := stripScheme(c.cfg.ServerURL)

	httpsURL := "https://" + base
	caps, err := c.probeCapabilities(ctx, httpsURL)
	if err == nil {
		c.scheme = "https"
		c.caps = caps
		c.serverType = caps.ServerType
		return nil
	}
	if !isConnectionError(err) {
		return fmt.Errorf("probing %s: %w", httpsURL, err)
	}

	c.log.WithError(err).Warn("https probe failed with a connection error, falling back to http")
	httpURL := "http://" + base
	caps, err = c.probeCapabilities(ctx, httpURL)
	if err != nil {
		return fmt.Errorf("probing %s after https fallback: %w", httpURL, err)
	}
	c.scheme = "http"
	c.caps = caps
	c.serverType = caps.ServerType
	return nil
}

func stripScheme(url string) string {
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	return strings.TrimSuffix(url, "/")
}

// effectiveServerURL is the resolved scheme + host, once Connect has run.
func (c *Client) effectiveServerURL() string {
	return c.scheme + "://" + stripScheme(c.cfg.ServerURL)
}

// URLForPath builds the absolute request URL for a relative WebDAV path.
func (c *Client) URLForPath(path string) string {
	clean := strings.TrimPrefix(path, "/")
	base := strings.TrimSuffix(c.effectiveServerURL(), "/")
	if clean == "" {
		return base
	}
	return base + "/" + clean
}

// HrefToRelativePath strips the server-type-specific prefix a WebDAV href
// carries, so discovery results can be compared against locally tracked
// paths.
func (c *Client) HrefToRelativePath(href string) string {
	switch c.serverType {
	case ServerNextcloud:
		prefix := "/remote.php/dav/files/" + c.cfg.Username
		return stripPrefix(href, prefix)
	case ServerOwnCloud:
		return stripPrefix(href, "/remote.php/webdav")
	case ServerGeneric:
		return stripPrefix(href, "/webdav")
	default:
		return href
	}
}

func stripPrefix(href, prefix string) string {
	if strings.HasPrefix(href, prefix) {
		rest := href[len(prefix):]
		if rest == "" {
			return "/"
		}
		return rest
	}
	return href
}

func (c *Client) doRequest(ctx context.Context, method, url string, body []byte, headers map[string]string) (*http.Response, error) {
	var resp *http.Response
	err := breaker.Execute(ctx, c.retryCfg, func(ctx context.Context) error {
		var bodyReader *strings.Reader
		if body != nil {
			bodyReader = strings.NewReader(string(body))
		} else {
			bodyReader = strings.NewReader("")
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
		req.Header.Set("User-Agent", UserAgent)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		r, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, url, err)
		}

		if r.StatusCode == http.StatusTooManyRequests {
			r.Body.Close()
			return breaker.RateLimitedError{Err: fmt.Errorf("%s %s: rate limited (429)", method, url)}
		}
		if r.StatusCode >= 500 {
			r.Body.Close()
			return fmt.Errorf("%s %s: server error %d", method, url, r.StatusCode)
		}
		resp = r
		return nil
	})
	return resp, err
}
