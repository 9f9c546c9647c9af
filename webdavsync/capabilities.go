package webdavsync

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// probeCapabilities issues OPTIONS against base and infers server type from
// the response headers. It is the connectivity test protocol detection
// depends on: a 401/403 authentication rejection is returned as an error the
// caller does not treat as a reason to try another scheme; any other response
// status is accepted and its headers are read as the capabilities.
func (c *Client) probeCapabilities(ctx context.Context, base string) (*ServerCapabilities, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, base, nil)
	if err != nil {
		return nil, fmt.Errorf("building options request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("authentication rejected (status %d)", resp.StatusCode)
	}

	caps := &ServerCapabilities{
		DAVLevel:     resp.Header.Get("DAV"),
		ServerHeader: resp.Header.Get("Server"),
	}
	if allow := resp.Header.Get("Allow"); allow != "" {
		for _, m := range strings.Split(allow, ",") {
			caps.Allow = append(caps.Allow, strings.TrimSpace(m))
		}
	}
	caps.ServerType = inferServerType(caps.ServerHeader, base)

	return caps, nil
}

// inferServerType matches the server header or base URL shape against the
// well-known WebDAV front-ends; anything unrecognized falls back to generic
// DAV level 3 behavior (no prefix stripping).
func inferServerType(serverHeader, base string) ServerType {
	lower := strings.ToLower(serverHeader)
	switch {
	case strings.Contains(lower, "nextcloud"):
		return ServerNextcloud
	case strings.Contains(lower, "owncloud"):
		return ServerOwnCloud
	case strings.Contains(base, "/remote.php/dav"):
		return ServerNextcloud
	case strings.Contains(base, "/remote.php/webdav"):
		return ServerOwnCloud
	case strings.Contains(base, "/webdav"):
		return ServerGeneric
	default:
		return ServerWebDAVLevel3
	}
}

// Capabilities returns the cached probe result; call Connect first.
func (c *Client) Capabilities() *ServerCapabilities {
	return c.caps
}
