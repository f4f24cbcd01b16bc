package retrieval

import "strings"

// stopwords are common words excluded from keyword extraction.
var stopwords = map[string]bool{
	"the": true, "and": true, "that": true, "have": true, "for": true,
	"not": true, "with": true, "you": true, "this": true, "but": true,
	"from": true, "they": true, "will": true, "would": true, "there": true,
	"their": true, "what": true, "about": true, "which": true, "when": true,
	"make": true, "like": true, "time": true, "just": true, "know": true,
	"into": true, "your": true, "some": true, "could": true, "them": true,
	"than": true, "then": true, "been": true, "were": true, "said": true,
	"each": true, "where": true, "does": true, "doing": true, "while": true,
	"over": true, "after": true, "before": true, "under": true, "again": true,
	"want": true, "toward": true, "towards": true, "here": true,
	"past": true, "very": true, "much": true, "also": true,
}

// ExtractKeywords returns the lowercase keywords of text: words longer
// than three characters that are not stopwords, deduplicated in order of
// first appearance.
func ExtractKeywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '\'')
	})

	seen := make(map[string]bool, len(fields))
	var keywords []string
	for _, w := range fields {
		w = strings.Trim(w, "'")
		if len(w) <= 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		keywords = append(keywords, w)
	}
	return keywords
}
