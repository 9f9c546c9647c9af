package webdavsync

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// The decode shapes below mirror a 207 Multi-Status PROPFIND response's
// nesting (multistatus > response > propstat > prop), read rather than
// written: the client is always the consumer of these documents, never the
// producer.

type multiStatus struct {
	XMLName   xml.Name       `xml:"multistatus"`
	Responses []davResponse  `xml:"response"`
}

type davResponse struct {
	Href     string        `xml:"href"`
	Propstat []davPropstat `xml:"propstat"`
}

type davPropstat struct {
	Prop   davProp `xml:"prop"`
	Status string  `xml:"status"`
}

type davProp struct {
	DisplayName     string       `xml:"displayname"`
	ContentLength   string       `xml:"getcontentlength"`
	LastModified    string       `xml:"getlastmodified"`
	ETag            string       `xml:"getetag"`
	ResourceType    resourceType `xml:"resourcetype"`
	CreationDate    string       `xml:"creationdate"`
	ContentType     string       `xml:"getcontenttype"`
}

type resourceType struct {
	Collection *struct{} `xml:"collection"`
}

// Entry is one file or directory surfaced by a PROPFIND discovery.
type Entry struct {
	Href         string
	ETag         string
	IsDirectory  bool
	Size         int64
	LastModified time.Time
	ContentType  string
}

// propfindBody is the standard property set the spec names: displayname,
// getcontentlength, getlastmodified, getetag, resourcetype, creationdate,
// plus getcontenttype for the server-reported MIME type.
const propfindBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:displayname/>
    <D:getcontentlength/>
    <D:getlastmodified/>
    <D:getetag/>
    <D:resourcetype/>
    <D:creationdate/>
    <D:getcontenttype/>
  </D:prop>
</D:propfind>`

// propfind issues a Depth:1 PROPFIND against path and decodes the 207
// response into entries, skipping the parent collection itself (href equal
// to path modulo trailing slash).
func (c *Client) propfind(ctx context.Context, path string) ([]Entry, error) {
	url := c.URLForPath(path)
	resp, err := c.doRequest(ctx, "PROPFIND", url, []byte(propfindBody), map[string]string{
		"Depth":        "1",
		"Content-Type": "application/xml; charset=utf-8",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == 405 {
		return nil, errMethodNotAllowed
	}
	if resp.StatusCode != 207 {
		return nil, fmt.Errorf("propfind %s: unexpected status %d", url, resp.StatusCode)
	}

	var ms multiStatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("decoding propfind response for %s: %w", url, err)
	}

	parentHref := strings.TrimSuffix(c.HrefToRelativePath(path), "/")
	var entries []Entry
	for _, r := range ms.Responses {
		rel := strings.TrimSuffix(c.HrefToRelativePath(r.Href), "/")
		if rel == parentHref {
			continue
		}

		prop, ok := okProp(r)
		if !ok {
			continue
		}

		entries = append(entries, Entry{
			Href:         r.Href,
			ETag:         strings.Trim(prop.ETag, `"`),
			IsDirectory:  prop.ResourceType.Collection != nil,
			Size:         parseInt64(prop.ContentLength),
			LastModified: parseHTTPDate(prop.LastModified),
			ContentType:  prop.ContentType,
		})
	}

	return entries, nil
}

// okProp returns the prop block from the first propstat reporting "200 OK",
// the only status a conforming server sends for requested-and-found
// properties.
func okProp(r davResponse) (davProp, bool) {
	for _, ps := range r.Propstat {
		if strings.Contains(ps.Status, "200") {
			return ps.Prop, true
		}
	}
	return davProp{}, false
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

// xmlDecode decodes a multistatus body from any io.Reader source; the
// depth:0 PROPFIND in headDirectoryETag uses it (propfind decodes directly).
func xmlDecode(r io.Reader, v any) error {
	return xml.NewDecoder(r).Decode(v)
}

func parseHTTPDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC1123, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC1123Z, s); err == nil {
		return t
	}
	return time.Time{}
}
