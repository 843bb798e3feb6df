// Package chunker splits extracted document text into bounded, overlapping
// chunks — the unit of embedding and retrieval. Splitting is a pure function:
// no I/O, deterministic output for a given input and configuration.
//
// Boundaries are chosen by trying separators in priority order (paragraph
// break, line break, space, hard character cut) so that a chunk ends at the
// highest-priority separator available within the size budget. Each chunk
// after the first repeats the trailing overlap characters of its predecessor
// so retrieval never loses context that straddles a boundary.
package chunker

import "fmt"

// Default splitting parameters, used when the caller passes zero values.
const (
	// DefaultChunkSize is the maximum number of characters per chunk.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the number of trailing characters each chunk
	// shares with its successor.
	DefaultChunkOverlap = 200
)

// separators is the boundary priority order. The empty string means a hard
// cut at the size limit when no natural separator is available.
var separators = []string{"\n\n", "\n", " "}

// Chunk is one bounded slice of a document's text.
// Chunks are immutable once produced.
type Chunk struct {
	// DocumentID identifies the source document. The chunker leaves it
	// empty; the ingest pipeline assigns it before embedding.
	DocumentID string

	// Index is the zero-based position of this chunk within the document.
	Index int

	// Text is the chunk content. Its length never exceeds the configured
	// chunk size, and for every chunk after the first the leading overlap
	// characters equal the trailing overlap characters of the predecessor.
	Text string

	// Page is the 1-based page number of the chunk's first character,
	// or 0 when the source has no page structure.
	Page int

	// Offset is the chunk's starting character offset in the source text.
	Offset int
}

// Page is one page of extracted source text, as produced by the PDF
// extraction layer.
type Page struct {
	// Number is the 1-based page number.
	Number int

	// Text is the extracted text of the page.
	Text string
}

// ConfigError reports invalid chunking parameters. Splitting with an overlap
// that is not strictly smaller than the chunk size has no defined result, so
// it is rejected up front rather than looping or silently clamping.
type ConfigError struct {
	// Reason describes which parameter combination was rejected.
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string { return "chunker: " + e.Reason }

// Split divides text into overlapping chunks of at most size characters.
// Zero size or overlap select the package defaults. The input is returned
// as a single chunk when it fits within size. Concatenating the first chunk
// with every subsequent chunk's text beyond the overlap reconstructs the
// input exactly.
func Split(text string, size, overlap int) ([]Chunk, error) {
	return SplitPages([]Page{{Number: 0, Text: text}}, size, overlap)
}

// SplitPages divides a page-structured document into overlapping chunks.
// Pages are joined with a paragraph break, and each chunk carries the page
// number of its first character. The same validation and overlap rules as
// [Split] apply.
func SplitPages(pages []Page, size, overlap int) ([]Chunk, error) {
	if size == 0 {
		size = DefaultChunkSize
	}
	if overlap == 0 {
		overlap = DefaultChunkOverlap
	}
	if size < 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("chunk size must be positive, got %d", size)}
	}
	if overlap < 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("chunk overlap must not be negative, got %d", overlap)}
	}
	if overlap >= size {
		return nil, &ConfigError{Reason: fmt.Sprintf("chunk overlap %d must be smaller than chunk size %d", overlap, size)}
	}

	text, starts := joinPages(pages)
	if len(text) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	start := 0
	for {
		end := start + size
		if end >= len(text) {
			chunks = append(chunks, Chunk{
				Index:  len(chunks),
				Text:   text[start:],
				Page:   pageAt(pages, starts, start),
				Offset: start,
			})
			return chunks, nil
		}

		// A cut must land beyond start+overlap so the next chunk makes
		// progress after rewinding by the overlap.
		cut := cutPoint(text, start+overlap, end)
		chunks = append(chunks, Chunk{
			Index:  len(chunks),
			Text:   text[start:cut],
			Page:   pageAt(pages, starts, start),
			Offset: start,
		})
		start = cut - overlap
	}
}

// cutPoint returns the end offset of the current chunk. It scans the window
// (min, max] for the last occurrence of each separator in priority order and
// cuts just after it; if no separator fits, it cuts hard at max.
func cutPoint(text string, min, max int) int {
	for _, sep := range separators {
		// Latest position where the separator still fits inside the window.
		for i := max - len(sep); i > min; i-- {
			if text[i:i+len(sep)] == sep {
				return i + len(sep)
			}
		}
	}
	return max
}

// joinPages concatenates page texts with a paragraph break and returns the
// joined text plus each page's starting offset within it.
func joinPages(pages []Page) (string, []int) {
	starts := make([]int, len(pages))
	total := 0
	for i, p := range pages {
		if i > 0 {
			total += 2 // "\n\n"
		}
		starts[i] = total
		total += len(p.Text)
	}

	buf := make([]byte, 0, total)
	for i, p := range pages {
		if i > 0 {
			buf = append(buf, "\n\n"...)
		}
		buf = append(buf, p.Text...)
	}
	return string(buf), starts
}

// pageAt returns the page number owning the given offset in the joined text.
func pageAt(pages []Page, starts []int, offset int) int {
	page := 0
	for i, s := range starts {
		if offset < s {
			break
		}
		page = pages[i].Number
	}
	return page
}
