package webdavsync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multistatusBody(entries ...string) string {
	return `<?xml version="1.0"?><D:multistatus xmlns:D="DAV:">` + joinStrings(entries) + `</D:multistatus>`
}

func joinStrings(ss []string) string {
	out := ""
	for _, s := range ss {
		out += s
	}
	return out
}

func fileEntry(href, etag string, size int) string {
	return fmt.Sprintf(`<D:response><D:href>%s</D:href><D:propstat><D:prop>
		<D:getcontentlength>%d</D:getcontentlength>
		<D:getetag>"%s"</D:getetag>
		<D:getcontenttype>text/plain</D:getcontenttype>
		<D:resourcetype/>
	</D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat></D:response>`, href, size, etag)
}

func dirEntry(href string) string {
	return fmt.Sprintf(`<D:response><D:href>%s</D:href><D:propstat><D:prop>
		<D:resourcetype><D:collection/></D:resourcetype>
	</D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat></D:response>`, href)
}

func TestDiscoverRecursiveWalksNestedDirectories(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(207)
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte(multistatusBody(dirEntry("/"), dirEntry("/sub"), fileEntry("/root.txt", "e1", 10))))
		case "/sub":
			_, _ = w.Write([]byte(multistatusBody(dirEntry("/sub"), fileEntry("/sub/child.txt", "e2", 20))))
		default:
			w.WriteHeader(404)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{ServerURL: srv.URL, MaxConcurrentScans: 2}, nil)
	c.scheme = "http"
	c.serverType = ServerGeneric

	result, err := c.DiscoverRecursive(context.Background(), DiscoveryRequest{RootPath: "/"})
	require.NoError(t, err)
	assert.Len(t, result.Files, 2)
	assert.Contains(t, result.Directories, "/sub")
}

func TestDownloadWithMimeDetectionFallsBackToServerReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0x00, 0x01, 0x02, 0x03})
	}))
	defer srv.Close()

	c := New(Config{ServerURL: srv.URL}, nil)
	c.scheme = "http"

	result, err := c.DownloadWithMimeDetection(context.Background(), "/blob.bin", "application/custom")
	require.NoError(t, err)
	assert.Equal(t, "application/custom", result.DetectedMimeType)
	assert.False(t, result.MimeTypeChanged)
}
