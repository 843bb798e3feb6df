package prompt

import "strings"

// CatalogIntentPatterns is the fixed list of case-insensitive substrings that
// mark a query as a document-inventory question ("what documents do you
// have?") rather than a content question. Kept as data so extending the
// classifier never touches control flow.
var CatalogIntentPatterns = []string{
	"what documents",
	"which documents",
	"what files",
	"which files",
	"list documents",
	"list my documents",
	"list the documents",
	"list files",
	"how many documents",
	"how many files",
	"documents do you have",
	"files do you have",
	"documents are uploaded",
	"documents have i uploaded",
	"show my documents",
	"my uploaded documents",
}

// IsCatalogQuery reports whether the query asks about the document inventory
// itself. Catalog questions are answered from the registry catalog, which is
// always included in the assembled context, so they work even when similarity
// search over the query text returns nothing.
func IsCatalogQuery(query string) bool {
	q := strings.ToLower(query)
	for _, pattern := range CatalogIntentPatterns {
		if strings.Contains(q, pattern) {
			return true
		}
	}
	return false
}
