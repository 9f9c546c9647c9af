package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTextPlainTextDispatch(t *testing.T) {
	pool := NewCPUPool(1)
	defer pool.Stop()

	result, err := ExtractText(context.Background(), pool, []byte("hello world"), "text/plain", Settings{})
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Text)
	assert.Equal(t, "plain_text", result.MethodName)
	assert.Equal(t, 2, result.WordCount)
}

func TestExtractTextUnsupportedMimeRejected(t *testing.T) {
	pool := NewCPUPool(1)
	defer pool.Stop()

	_, err := ExtractText(context.Background(), pool, []byte("x"), "application/x-unknown", Settings{})
	assert.Error(t, err)
}

func TestExtractTextOfficeDocxDispatch(t *testing.T) {
	pool := NewCPUPool(1)
	defer pool.Stop()

	doc := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body><w:p><w:r><w:t>Report Body</w:t></w:r></w:p></w:body>
</w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(doc))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	result, err := ExtractText(context.Background(), pool, buf.Bytes(), "application/vnd.openxmlformats-officedocument.wordprocessingml.document", Settings{})
	require.NoError(t, err)
	assert.Contains(t, result.Text, "Report Body")
	assert.Equal(t, "office_docx", result.MethodName)
}

func TestSettingsWithDefaults(t *testing.T) {
	s := Settings{}.withDefaults()
	assert.Equal(t, "eng", s.Language)
	assert.Equal(t, 0.5, s.ConfidenceThreshold)
}
