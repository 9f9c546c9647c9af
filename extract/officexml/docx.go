package officexml

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Local element names are matched regardless of the namespace prefix the
// producer chose, since encoding/xml reports xml.Name.Local independent of
// the "w:" binding.

func extractDOCX(ctx context.Context, zr *zip.Reader, ectx *ExtractionContext) (string, error) {
	var target *zip.File
	for _, f := range zr.File {
		if ectx.IsCancelled() {
			return "", fmt.Errorf("officexml: cancelled")
		}
		if f.Name == "word/document.xml" {
			target = f
			break
		}
	}
	if target == nil {
		return "", fmt.Errorf("officexml: word/document.xml not found in archive")
	}

	data, err := readZipEntrySafely(target, ectx)
	if err != nil {
		return "", err
	}

	text, err := decodeDocumentXML(ctx, data)
	if err != nil {
		return "", err
	}

	return cleanText(text), nil
}

// decodeDocumentXML streams word/document.xml, emitting w:t text node
// content and translating structural tags into whitespace per the fixed
// table below.
func decodeDocumentXML(ctx context.Context, data []byte) (string, error) {
	dec := newXMLDecoder(bytes.NewReader(data))
	var b strings.Builder

	inText := false
	spaceCount := 0
	inSpaceTag := false

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("officexml: decoding document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteString("\t")
			case "br":
				b.WriteString("\n")
			case "cr":
				b.WriteString("\r")
			case "space":
				inSpaceTag = true
				spaceCount = 1
				for _, attr := range t.Attr {
					if attr.Name.Local == "count" {
						if n, err := strconv.Atoi(attr.Value); err == nil {
							spaceCount = n
						}
					}
				}
			case "p":
				b.WriteString("\n\n")
			case "tr":
				b.WriteString("\n")
			case "tc":
				b.WriteString("\t")
			case "sectPr":
				b.WriteString("\n\n--- Section Break ---\n\n")
			case "lastRenderedPageBreak":
				b.WriteString("\n--- Page Break ---\n")
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
			if t.Name.Local == "space" && inSpaceTag {
				b.WriteString(strings.Repeat(" ", spaceCount))
				inSpaceTag = false
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}

	return b.String(), nil
}

var (
	runOfSpaces   = regexp.MustCompile(` {3,}`)
	runOfNewlines = regexp.MustCompile(`\n{3,}`)
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	lowerUpperBoundary = regexp.MustCompile(`([a-z])([A-Z])`)
)

// cleanText collapses runs of spaces/newlines, trims trailing whitespace
// before line breaks, splits concatenated "aB" boundaries with a space, and
// strips any remaining NUL bytes.
func cleanText(text string) string {
	text = runOfSpaces.ReplaceAllString(text, "  ")
	text = runOfNewlines.ReplaceAllString(text, "\n\n")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = lowerUpperBoundary.ReplaceAllString(text, "$1 $2")
	text = removeNullBytes(text)
	return text
}
