// Package evidence holds the OCR evidence objects the platform attaches
// to a processed document (word tokens and extracted entities) and an
// index that answers which entities a set of words supports.
package evidence

import (
	"github.com/docsift/docsift/internal/doc"
)

// Word is a single OCR word token with its own location and identity.
type Word struct {
	UID        string       `json:"uid"`
	Word       string       `json:"word"`
	Processed  string       `json:"processed_word,omitempty"`
	Source     string       `json:"source,omitempty"`
	Rotated    bool         `json:"rotated,omitempty"`
	Confidence float64      `json:"confidence"`
	Location   doc.Location `json:"location"`
}

// Entity is a structured value (date, amount, etc.) the platform's
// extraction pipeline recognized, spanning one or more word tokens.
type Entity struct {
	UID            string       `json:"uid"`
	Label          string       `json:"label"`
	Word           string       `json:"word,omitempty"`
	Processed      any          `json:"processed,omitempty"`
	Location       doc.Location `json:"location"`
	SourceWordUIDs []string     `json:"source_rivlets"`
}

// OverlappingWords returns the words whose boxes intersect the value's
// location (same page, both axes). A nil location matches nothing.
func OverlappingWords(loc *doc.Location, words []Word) []Word {
	if loc == nil {
		return nil
	}
	var out []Word
	for _, w := range words {
		if w.Location.Overlaps(*loc) {
			out = append(out, w)
		}
	}
	return out
}

// WordsByUID builds a uid lookup over a document's words.
func WordsByUID(words []Word) map[string]Word {
	m := make(map[string]Word, len(words))
	for _, w := range words {
		m[w.UID] = w
	}
	return m
}
