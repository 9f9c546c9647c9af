package officexml

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

type sharedStringsXML struct {
	XMLName xml.Name       `xml:"sst"`
	Items   []sharedString `xml:"si"`
}

type sharedString struct {
	Text  string       `xml:"t"`
	Runs  []sharedRun  `xml:"r"`
}

type sharedRun struct {
	Text string `xml:"t"`
}

func (s sharedString) value() string {
	if len(s.Runs) > 0 {
		var b strings.Builder
		for _, r := range s.Runs {
			b.WriteString(r.Text)
		}
		return b.String()
	}
	return s.Text
}

type workbookXML struct {
	Sheets struct {
		Sheet []struct {
			Name string `xml:"name,attr"`
			RID  string `xml:"id,attr"` // r:id, local-matched
		} `xml:"sheet"`
	} `xml:"sheets"`
}

type worksheetXML struct {
	SheetData struct {
		Rows []struct {
			Cells []struct {
				Type  string `xml:"t,attr"`
				Value string `xml:"v"`
			} `xml:"c"`
		} `xml:"row"`
	} `xml:"sheetData"`
}

var sheetNumberPattern = regexp.MustCompile(`sheet(\d+)\.xml$`)

func extractXLSX(ctx context.Context, zr *zip.Reader, ectx *ExtractionContext) (string, error) {
	byName := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		byName[f.Name] = f
	}

	shared, err := loadSharedStrings(byName["xl/sharedStrings.xml"], ectx)
	if err != nil {
		return "", err
	}

	sheetFiles := resolveSheetFiles(byName)

	var b strings.Builder
	for _, f := range sheetFiles {
		if ectx.IsCancelled() {
			return "", fmt.Errorf("officexml: cancelled")
		}
		data, err := readZipEntrySafely(f, ectx)
		if err != nil {
			return "", err
		}
		text, err := decodeWorksheetXML(ctx, data, shared)
		if err != nil {
			return "", err
		}
		if text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
	}

	return cleanText(b.String()), nil
}

// loadSharedStrings parses xl/sharedStrings.xml into an index -> value
// table; a workbook with no shared strings part (all-numeric, e.g.) yields
// an empty table.
func loadSharedStrings(f *zip.File, ectx *ExtractionContext) ([]string, error) {
	if f == nil {
		return nil, nil
	}
	data, err := readZipEntrySafely(f, ectx)
	if err != nil {
		return nil, err
	}

	var sst sharedStringsXML
	if err := newXMLDecoder(bytes.NewReader(data)).Decode(&sst); err != nil {
		return nil, fmt.Errorf("officexml: parsing sharedStrings.xml: %w", err)
	}

	out := make([]string, len(sst.Items))
	for i, item := range sst.Items {
		out[i] = item.value()
	}
	return out, nil
}

// resolveSheetFiles enumerates worksheet parts by relationship id from
// xl/workbook.xml (sheetN.xml, in declaration order); on any parse failure
// it falls back to the sequential xl/worksheets/sheet1.xml..sheetN.xml
// files actually present in the archive.
func resolveSheetFiles(byName map[string]*zip.File) []*zip.File {
	if wbFile, ok := byName["xl/workbook.xml"]; ok {
		if sheets, err := enumerateSheetsFromWorkbook(wbFile, byName); err == nil && len(sheets) > 0 {
			return sheets
		}
	}
	return fallbackSequentialSheets(byName)
}

func enumerateSheetsFromWorkbook(wbFile *zip.File, byName map[string]*zip.File) ([]*zip.File, error) {
	rc, err := wbFile.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxXMLPartSize))
	if err != nil {
		return nil, err
	}

	var wb workbookXML
	if err := newXMLDecoder(bytes.NewReader(data)).Decode(&wb); err != nil {
		return nil, err
	}
	if len(wb.Sheets.Sheet) == 0 {
		return nil, fmt.Errorf("officexml: no sheets declared")
	}

	var out []*zip.File
	for i, sheet := range wb.Sheets.Sheet {
		n, ok := sheetFileNumber(sheet.RID)
		if !ok {
			n = i + 1
		}
		name := fmt.Sprintf("xl/worksheets/sheet%d.xml", n)
		if f, ok := byName[name]; ok {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("officexml: no matching worksheet parts found")
	}
	return out, nil
}

// sheetFileNumber extracts the numeric suffix from a relationship id such as
// "rId3", giving the physical sheetN.xml this <sheet> declaration refers to
// regardless of where it sits in <sheets>'s declaration order (tabs can be
// reordered without renumbering the underlying worksheet parts).
func sheetFileNumber(rid string) (int, bool) {
	suffix := strings.TrimPrefix(rid, "rId")
	if suffix == rid {
		return 0, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return n, true
}

func fallbackSequentialSheets(byName map[string]*zip.File) []*zip.File {
	type numbered struct {
		n int
		f *zip.File
	}
	var found []numbered
	for name, f := range byName {
		m := sheetNumberPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		found = append(found, numbered{n, f})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	out := make([]*zip.File, len(found))
	for i, nf := range found {
		out[i] = nf.f
	}
	return out
}

// decodeWorksheetXML streams <c> cells, resolving shared-string indices and
// concatenating values with single spaces.
func decodeWorksheetXML(ctx context.Context, data []byte, shared []string) (string, error) {
	var ws worksheetXML
	if err := newXMLDecoder(bytes.NewReader(data)).Decode(&ws); err != nil {
		return "", fmt.Errorf("officexml: parsing worksheet: %w", err)
	}

	var b strings.Builder
	for _, row := range ws.SheetData.Rows {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		for _, cell := range row.Cells {
			value := cell.Value
			if cell.Type == "s" {
				idx, err := strconv.Atoi(value)
				if err == nil && idx >= 0 && idx < len(shared) {
					value = shared[idx]
				}
			}
			if value == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString(" ")
			}
			b.WriteString(value)
		}
	}

	return b.String(), nil
}
