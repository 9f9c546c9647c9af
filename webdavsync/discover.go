package webdavsync

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/readur/readur/model"
)

// DirectoryState tracks the per-directory scan tracking record a caller
// consults for ETag-driven skipping. Source implementations adapt their own
// persistence into this shape.
type DirectoryState struct {
	ETag          string
	LastScannedAt time.Time
}

// DirectoryLookup resolves the currently tracked state for a path, or
// (zero value, false) if the path has never been scanned.
type DirectoryLookup func(path string) (DirectoryState, bool)

// ErrorTracker is the subset of the Source Error Tracker (C6) the WebDAV
// client consults before and after every directory scan.
type ErrorTracker interface {
	ShouldSkip(ctx context.Context, owner uuid.UUID, sourceKind model.SourceKind, sourceID *uuid.UUID, path string) (bool, error)
	MarkSuccess(ctx context.Context, owner uuid.UUID, sourceKind model.SourceKind, sourceID *uuid.UUID, path string) error
	TrackError(ctx context.Context, owner uuid.UUID, sourceKind model.SourceKind, sourceID *uuid.UUID, path string, cause error, statusCode int) error
}

// DiscoveryRequest parameterizes one recursive directory discovery.
type DiscoveryRequest struct {
	Owner          uuid.UUID
	SourceID       *uuid.UUID
	RootPath       string
	Tracker        ErrorTracker
	Lookup         DirectoryLookup
	// FreshWindow is how recent LastScannedAt must be for an unchanged ETag
	// to short-circuit the subtree.
	FreshWindow time.Duration
}

// DiscoveryResult is the flattened outcome of a recursive discovery: every
// file found, plus every directory visited with its current ETag so the
// caller can persist DirectoryTrackingRecord rows.
type DiscoveryResult struct {
	Files       []model.FileIngestionInfo
	Directories map[string]string // relative path -> etag
	Skipped     []string          // relative paths skipped via ETag or error tracker
}

// DiscoverRecursive walks req.RootPath breadth-first using a work queue, a
// scanned set to prevent cycles, and the client's scan semaphore to bound
// concurrency (fans out up to cap(scanSem) subdirectories per batch).
func (c *Client) DiscoverRecursive(ctx context.Context, req DiscoveryRequest) (*DiscoveryResult, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting before discovery: %w", err)
	}

	result := &DiscoveryResult{Directories: make(map[string]string)}
	scanned := make(map[string]bool)
	queue := []string{normalizeDir(req.RootPath)}

	var mu sync.Mutex

	for len(queue) > 0 {
		batch := queue
		queue = nil

		var wg sync.WaitGroup
		errs := make([]error, len(batch))

		for i, dir := range batch {
			if scanned[dir] {
				continue
			}
			scanned[dir] = true

			i, dir := i, dir
			c.scanSem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-c.scanSem }()

				children, skipped, err := c.scanOneDirectory(ctx, req, dir)
				if err != nil {
					errs[i] = err
					return
				}
				if skipped {
					mu.Lock()
					result.Skipped = append(result.Skipped, dir)
					mu.Unlock()
					return
				}

				mu.Lock()
				for _, child := range children {
					rel := normalizeDir(path.Join(dir, child.RelativePath))
					if child.IsDirectory {
						result.Directories[rel] = child.ETag
						queue = append(queue, rel)
					} else {
						result.Files = append(result.Files, child)
					}
				}
				mu.Unlock()
			}()
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				return result, err
			}
		}
	}

	return result, nil
}

// scanOneDirectory runs the per-directory state machine: Idle -> Enqueued
// (implicit, it's already queued) -> Probing -> Finished/Skipped/Failed.
func (c *Client) scanOneDirectory(ctx context.Context, req DiscoveryRequest, dir string) ([]model.FileIngestionInfo, bool, error) {
	if req.Tracker != nil {
		skip, err := req.Tracker.ShouldSkip(ctx, req.Owner, model.SourceKindWebDAV, req.SourceID, dir)
		if err != nil {
			return nil, false, fmt.Errorf("checking skip policy for %q: %w", dir, err)
		}
		if skip {
			return nil, true, nil
		}
	}

	if req.Lookup != nil {
		if state, ok := req.Lookup(dir); ok {
			currentETag, etagErr := c.headDirectoryETag(ctx, dir)
			if etagErr == nil && currentETag == state.ETag && time.Since(state.LastScannedAt) < req.FreshWindow {
				return nil, true, nil
			}
		}
	}

	entries, err := c.propfind(ctx, dir)
	if err == errMethodNotAllowed {
		entries, err = c.tryFallbackDiscovery(ctx, dir)
	}
	if err != nil {
		if req.Tracker != nil {
			_ = req.Tracker.TrackError(ctx, req.Owner, model.SourceKindWebDAV, req.SourceID, dir, err, statusCodeOf(err))
		}
		return nil, false, fmt.Errorf("scanning %q: %w", dir, err)
	}

	if req.Tracker != nil {
		_ = req.Tracker.MarkSuccess(ctx, req.Owner, model.SourceKindWebDAV, req.SourceID, dir)
	}

	var out []model.FileIngestionInfo
	for _, e := range entries {
		rel := c.HrefToRelativePath(e.Href)
		out = append(out, model.FileIngestionInfo{
			RelativePath:   path.Base(strings.TrimSuffix(rel, "/")),
			Href:           e.Href,
			Size:           e.Size,
			ServerMimeType: e.ContentType,
			ETag:           e.ETag,
			LastModified:   e.LastModified,
			IsDirectory:    e.IsDirectory,
		})
	}
	return out, false, nil
}

// headDirectoryETag issues a Depth:0 PROPFIND to read a directory's own
// ETag without fetching its children, for the skip comparison.
func (c *Client) headDirectoryETag(ctx context.Context, dir string) (string, error) {
	url := c.URLForPath(dir)
	resp, err := c.doRequest(ctx, "PROPFIND", url, []byte(propfindBody), map[string]string{
		"Depth":        "0",
		"Content-Type": "application/xml; charset=utf-8",
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var ms multiStatus
	if err := xmlDecode(resp.Body, &ms); err != nil {
		return "", err
	}
	for _, r := range ms.Responses {
		if prop, ok := okProp(r); ok {
			return strings.Trim(prop.ETag, `"`), nil
		}
	}
	return "", fmt.Errorf("no property block in depth:0 propfind for %q", dir)
}

// tryFallbackDiscovery retries discovery against the server type's alternate
// base-path candidates, in order, surfacing the last error if none work.
func (c *Client) tryFallbackDiscovery(ctx context.Context, dir string) ([]Entry, error) {
	candidates := fallbackBasePaths[c.serverType]
	var lastErr error = errMethodNotAllowed
	for _, prefix := range candidates {
		p := prefix
		if strings.Contains(p, "%s") {
			p = fmt.Sprintf(p, c.cfg.Username)
		}
		entries, err := c.propfind(ctx, normalizeDir(path.Join(p, dir)))
		if err == nil {
			return entries, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("webdav PROPFIND not allowed at %q and no fallback base path succeeded: %w", dir, lastErr)
}

// statusCodeOf extracts an HTTP status code from an error message produced
// by propfind/doRequest ("unexpected status %d"), or 0 if none is present;
// the tracker's classification table treats 0 as "not an HTTP error".
func statusCodeOf(err error) int {
	msg := err.Error()
	for _, code := range []int{404, 403, 405, 500, 502, 503, 504} {
		if strings.Contains(msg, fmt.Sprintf("%d", code)) {
			return code
		}
	}
	return 0
}

func normalizeDir(p string) string {
	p = path.Clean("/" + p)
	if p == "." {
		p = "/"
	}
	return p
}
