package webdavsync

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// DownloadResult is the outcome of downloading one remote file, including
// whether MIME re-detection changed the caller's recorded content type.
type DownloadResult struct {
	Data             []byte
	DetectedMimeType string
	Confidence       float64
	DetectionMethod  string
	MimeTypeChanged  bool
}

// Download fetches the body at path, bounded by the client's download
// semaphore.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	c.downloadSem <- struct{}{}
	defer func() { <-c.downloadSem }()

	url := c.URLForPath(path)
	resp, err := c.doRequest(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("downloading %q: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body for %q: %w", path, err)
	}
	return data, nil
}

// DownloadWithMimeDetection downloads path and re-detects its MIME type from
// magic bytes, comparing against the server-reported content type.
func (c *Client) DownloadWithMimeDetection(ctx context.Context, path, serverMimeType string) (*DownloadResult, error) {
	data, err := c.Download(ctx, path)
	if err != nil {
		return nil, err
	}

	sniffed := http.DetectContentType(data)
	result := &DownloadResult{
		Data:             data,
		DetectedMimeType: sniffed,
		DetectionMethod:  "magic_bytes",
		Confidence:       1.0,
	}
	if sniffed == "application/octet-stream" {
		// The sniffer's catch-all: magic bytes didn't match a known
		// signature, so defer to whatever the server claimed.
		result.DetectedMimeType = serverMimeType
		result.DetectionMethod = "server_reported"
		result.Confidence = 0.5
	}
	result.MimeTypeChanged = serverMimeType != "" && result.DetectedMimeType != serverMimeType

	return result, nil
}
