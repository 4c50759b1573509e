package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeType(t *testing.T) {
	tests := map[string]string{
		"application/pdf":           TypePDF,
		"text/plain; charset=utf-8": TypeText,
		"text/markdown":             TypeMarkdown,
		"TEXT/HTML":                 TypeHTML,
		"application/json":          TypeJSON,
		"application/octet-stream":  TypeText,
		"":                          TypeText,
		"not a mime type":           TypeText,
	}

	for in, want := range tests {
		assert.Equal(t, want, NormalizeType(in), in)
	}
}

func TestExtract_Text(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("line one\r\nline two\rthree")...)

	res, err := Extract(data, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, TypeText, res.Type)
	assert.Equal(t, "line one\nline two\nthree", res.Text)
}

func TestExtract_InvalidUTF8Fallback(t *testing.T) {
	res, err := Extract([]byte{'o', 'k', 0xff, 0xfe, '!'}, "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, "ok�!", res.Text)
}

func TestExtract_Markdown(t *testing.T) {
	res, err := Extract([]byte("# Title\n\nBody"), "text/markdown")
	require.NoError(t, err)
	assert.Equal(t, TypeMarkdown, res.Type)
	assert.Equal(t, "# Title\n\nBody", res.Text)
}

func TestExtract_InvalidPDF(t *testing.T) {
	_, err := Extract([]byte("definitely not a pdf"), "application/pdf")
	assert.ErrorIs(t, err, ErrUnsupportedContent)

	_, err = Extract(nil, "application/pdf")
	assert.ErrorIs(t, err, ErrUnsupportedContent)
}

func TestExtract_MalformedPDFDoesNotPanic(t *testing.T) {
	data := []byte("%PDF-1.7\n" + strings.Repeat("x", 200) + "\nstartxref\n-5\n%%EOF")

	var err error
	require.NotPanics(t, func() {
		_, err = Extract(data, "application/pdf")
	})
	assert.ErrorIs(t, err, ErrUnsupportedContent)
}
