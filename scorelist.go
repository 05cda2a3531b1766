package qeval

import "sort"

// ScoredDoc pairs an internal document id with its score.
type ScoredDoc struct {
	Doc   int     `json:"doc"`
	Score float64 `json:"score"`
}

// ScoreList accumulates the results of one query.
type ScoreList struct {
	entries []ScoredDoc
}

// NewScoreList returns an empty list with room for capacity entries.
func NewScoreList(capacity int) *ScoreList {
	return &ScoreList{entries: make([]ScoredDoc, 0, capacity)}
}

// ScoreListFrom wraps existing entries; the slice is not copied.
func ScoreListFrom(entries []ScoredDoc) *ScoreList {
	return &ScoreList{entries: entries}
}

// Add appends a result.
func (l *ScoreList) Add(doc int, score float64) {
	l.entries = append(l.entries, ScoredDoc{Doc: doc, Score: score})
}

// Len returns the number of results. A nil list is empty.
func (l *ScoreList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

// Doc returns the document at rank i (0-based).
func (l *ScoreList) Doc(i int) int {
	return l.entries[i].Doc
}

// Score returns the score at rank i (0-based).
func (l *ScoreList) Score(i int) float64 {
	return l.entries[i].Score
}

// Entries exposes the underlying slice.
func (l *ScoreList) Entries() []ScoredDoc {
	return l.entries
}

// Sort orders by score descending, then internal document id ascending.
// The order is total, so sorting again changes nothing.
func (l *ScoreList) Sort() {
	sort.SliceStable(l.entries, func(i, j int) bool {
		a, b := l.entries[i], l.entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Doc < b.Doc
	})
}

// Truncate keeps at most n results.
func (l *ScoreList) Truncate(n int) {
	if n >= 0 && n < len(l.entries) {
		l.entries = l.entries[:n]
	}
}
