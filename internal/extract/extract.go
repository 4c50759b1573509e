// Package extract converts a raw document payload into plain text based on
// its declared MIME type.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedContent is returned when a payload cannot be turned into text.
var ErrUnsupportedContent = errors.New("unsupported content")

// Normalized content types.
const (
	TypePDF      = "pdf"
	TypeText     = "text"
	TypeMarkdown = "markdown"
	TypeHTML     = "html"
	TypeJSON     = "json"
)

// Result is the outcome of an extraction.
type Result struct {
	Text string
	Type string
}

// Extract returns the text of data. PDFs are parsed; every other MIME type
// is decoded as UTF-8 with invalid sequences replaced.
func Extract(data []byte, mimeType string) (*Result, error) {
	typ := NormalizeType(mimeType)

	var text string
	switch typ {
	case TypePDF:
		t, err := extractPDF(data)
		if err != nil {
			return nil, err
		}
		text = t
	default:
		text = decodeText(data)
	}

	return &Result{Text: text, Type: typ}, nil
}

// NormalizeType maps a MIME type (parameters allowed) to a short content type.
// Unknown or malformed types map to TypeText.
func NormalizeType(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(mimeType))
	}

	switch mediaType {
	case "application/pdf", "application/x-pdf":
		return TypePDF
	case "text/markdown", "text/x-markdown":
		return TypeMarkdown
	case "text/html", "application/xhtml+xml":
		return TypeHTML
	case "application/json":
		return TypeJSON
	default:
		return TypeText
	}
}

// extractPDF parses data as a PDF. The parser panics on some malformed
// inputs; those panics become ErrUnsupportedContent.
func extractPDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: malformed pdf: %v", ErrUnsupportedContent, r)
		}
	}()

	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty pdf", ErrUnsupportedContent)
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %v", ErrUnsupportedContent, err)
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: read pdf text: %v", ErrUnsupportedContent, err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}

	return decodeText(buf.Bytes()), nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText strips a UTF-8 BOM, replaces invalid sequences and normalizes
// line endings.
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	text := strings.ToValidUTF8(string(data), "�")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return text
}
