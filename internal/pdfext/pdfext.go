// Package pdfext extracts per-page text from PDF files for the ingest
// pipeline. pdfcpu provides parsing, validation, and the consolidated page
// content streams; the text itself is recovered from the stream's show-text
// operators. Extraction quality follows the source PDF — scanned documents
// without a text layer yield nothing.
package pdfext

import (
	"fmt"
	"io"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdf "github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/docqa/docqa-go/internal/chunker"
)

// ExtractFile reads the PDF at path and returns its pages' text.
func ExtractFile(path string) ([]chunker.Page, error) {
	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("pdfext: read %s: %w", path, err)
	}
	return extract(ctx)
}

// Extract reads a PDF from rs (an uploaded file) and returns its pages' text.
func Extract(rs io.ReadSeeker) ([]chunker.Page, error) {
	ctx, err := api.ReadValidateAndOptimize(rs, model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("pdfext: read: %w", err)
	}
	return extract(ctx)
}

// extract walks every page's consolidated content stream and decodes its
// show-text operators.
func extract(ctx *model.Context) ([]chunker.Page, error) {
	pages := make([]chunker.Page, 0, ctx.PageCount)
	for n := 1; n <= ctx.PageCount; n++ {
		r, err := pdf.ExtractPageContent(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("pdfext: page %d content: %w", n, err)
		}

		var text string
		if r != nil {
			raw, err := io.ReadAll(r)
			if err != nil {
				return nil, fmt.Errorf("pdfext: page %d read: %w", n, err)
			}
			text = decodeShowText(raw)
		}

		pages = append(pages, chunker.Page{Number: n, Text: text})
	}
	return pages, nil
}

// decodeShowText scans a page content stream for literal strings consumed by
// the Tj/TJ/'/" show-text operators and joins them in stream order. Text
// positioning operators (Td, TD, T*) become line breaks. This covers the
// common case of PDFs with standard encodings; hex strings and CID fonts are
// out of scope.
func decodeShowText(content []byte) string {
	var b strings.Builder
	i := 0
	for i < len(content) {
		switch content[i] {
		case '(':
			s, next := readLiteralString(content, i)
			b.WriteString(s)
			i = next

		case 'T':
			if i+1 < len(content) {
				switch content[i+1] {
				case '*', 'd', 'D':
					b.WriteByte('\n')
				}
			}
			i += 2

		default:
			i++
		}
	}

	return normalizeWhitespace(b.String())
}

// readLiteralString decodes one parenthesized PDF string starting at open.
// It handles escape sequences and balanced nested parentheses, returning the
// decoded text and the index just past the closing parenthesis.
func readLiteralString(content []byte, open int) (string, int) {
	var b strings.Builder
	depth := 1
	i := open + 1
	for i < len(content) && depth > 0 {
		c := content[i]
		switch c {
		case '\\':
			if i+1 < len(content) {
				switch content[i+1] {
				case 'n':
					b.WriteByte('\n')
				case 't':
					b.WriteByte('\t')
				case '(', ')', '\\':
					b.WriteByte(content[i+1])
				}
				i += 2
				continue
			}
			i++
		case '(':
			depth++
			b.WriteByte(c)
			i++
		case ')':
			depth--
			if depth > 0 {
				b.WriteByte(c)
			}
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	// Adjacent show-text strings usually continue the same line.
	b.WriteByte(' ')
	return b.String(), i
}

// normalizeWhitespace collapses runs of spaces and trims each line, keeping
// line structure for the chunker's separator priorities.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
