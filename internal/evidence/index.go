package evidence

import "sort"

// Index answers which entities are supported by a given set of word
// tokens. Construction walks every entity's source-word list once; the
// index is immutable afterwards, so a document's index can serve any
// number of lookups.
type Index struct {
	entities  []Entity
	byWordUID map[string][]int
}

// FindOptions relaxes the exact-match contract of Index.Find.
type FindOptions struct {
	// MatchSubsets admits entities supported by only some of the input
	// words.
	MatchSubsets bool

	// MatchSupersets admits entities that cover words beyond the input.
	MatchSupersets bool
}

// NewIndex builds an index over a document's entities.
func NewIndex(entities []Entity) *Index {
	byWordUID := make(map[string][]int)
	for i, e := range entities {
		for _, uid := range e.SourceWordUIDs {
			byWordUID[uid] = append(byWordUID[uid], i)
		}
	}
	return &Index{entities: entities, byWordUID: byWordUID}
}

// Find returns the entities matched by the given words, deduplicated and
// ordered by ascending original entity index. With zero options an entity
// matches only when its source-word set equals the input exactly: every
// input word must reference it, and it must not span any other words.
func (ix *Index) Find(words []Word, opts FindOptions) []Entity {
	counts := make(map[int]int)
	for _, w := range words {
		for _, i := range ix.byWordUID[w.UID] {
			counts[i]++
		}
	}

	var indices []int
	for i, c := range counts {
		if !opts.MatchSubsets && c < len(words) {
			continue
		}
		if !opts.MatchSupersets && len(ix.entities[i].SourceWordUIDs) > len(words) {
			continue
		}
		indices = append(indices, i)
	}
	sort.Ints(indices)

	out := make([]Entity, 0, len(indices))
	for _, i := range indices {
		out = append(out, ix.entities[i])
	}
	return out
}
