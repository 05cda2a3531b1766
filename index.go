// Package qeval evaluates structured queries over a fielded inverted index.
//
// ═══════════════════════════════════════════════════════════════════════════════
// HOW A QUERY IS EVALUATED
// ═══════════════════════════════════════════════════════════════════════════════
// Given the query
//
//	#and(#near/1(new york) apple.title)
//
// the parser builds an operator tree. Leaves read term postings from the
// Index. Proximity and synonym operators merge those postings into new
// synthetic lists. Score operators walk their children document at a time
// and combine child scores under the active retrieval model:
//
//	            #and                  ← score operator (document iterator)
//	           /    \
//	     #score      #score           ← turns postings into scores
//	        |           |
//	   #near/1      apple.title       ← inverted operators (postings)
//	    /    \
//	  new    york
//
// Ranked results land in a ScoreList that sorts by score, then document id.
// ═══════════════════════════════════════════════════════════════════════════════
package qeval

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// Field names understood by the query language.
const (
	FieldBody     = "body"
	FieldTitle    = "title"
	FieldURL      = "url"
	FieldKeywords = "keywords"
	FieldInlink   = "inlink"
)

// KnownFields lists the searchable fields in a fixed order.
var KnownFields = []string{FieldBody, FieldTitle, FieldURL, FieldKeywords, FieldInlink}

// IsKnownField reports whether field may appear in a query.
func IsKnownField(field string) bool {
	for _, f := range KnownFields {
		if f == field {
			return true
		}
	}
	return false
}

// ═══════════════════════════════════════════════════════════════════════════════
// INDEX ACCESS FACADE
// ═══════════════════════════════════════════════════════════════════════════════
// The engine only reads the index. Everything it needs, statistics, postings,
// attributes, id mapping and term vectors, goes through this interface, so
// the storage behind it can be swapped without touching evaluation code.
// ═══════════════════════════════════════════════════════════════════════════════

// Index is the read-only view of the collection used during evaluation.
// Missing data is never an error: unknown terms have empty postings and
// zero statistics.
type Index interface {
	NumDocs() int
	DocCount(field string) int
	FieldLength(field string, doc int) int
	SumFieldLengths(field string) int64
	TotalTermFreq(field, term string) int64
	DocFreq(field, term string) int
	Postings(field, term string) *PostingList
	Attribute(name string, doc int) (string, bool)
	ExternalID(doc int) (string, error)
	InternalID(externalID string) (int, error)
	TermVector(field string, doc int) (*TermVector, bool)
}

// TermStat is one entry of a term vector.
type TermStat struct {
	Stem      string
	Freq      int   // occurrences in this document's field
	DocFreq   int   // documents containing the stem in this field
	TotalFreq int64 // occurrences in the whole collection field
}

// TermVector is the per-document view of a field: every distinct stem with
// its in-document and collection statistics. Stems are sorted so ordinals
// are stable.
type TermVector struct {
	Field  string
	Doc    int
	Length int
	stems  []TermStat
	lookup map[string]int
}

// NewTermVector builds a vector from unordered stats.
func NewTermVector(field string, doc, length int, stats []TermStat) *TermVector {
	sort.Slice(stats, func(i, j int) bool { return stats[i].Stem < stats[j].Stem })
	lookup := make(map[string]int, len(stats))
	for i, s := range stats {
		lookup[s.Stem] = i
	}
	return &TermVector{Field: field, Doc: doc, Length: length, stems: stats, lookup: lookup}
}

// Len returns the number of distinct stems.
func (tv *TermVector) Len() int {
	return len(tv.stems)
}

// Stem returns the stem at ordinal i.
func (tv *TermVector) Stem(i int) TermStat {
	return tv.stems[i]
}

// IndexOf returns the ordinal of stem, or -1.
func (tv *TermVector) IndexOf(stem string) int {
	if i, ok := tv.lookup[stem]; ok {
		return i
	}
	return -1
}

// Freq returns the in-document frequency of stem, 0 when absent.
func (tv *TermVector) Freq(stem string) int {
	if i := tv.IndexOf(stem); i >= 0 {
		return tv.stems[i].Freq
	}
	return 0
}

// ═══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY INDEX
// ═══════════════════════════════════════════════════════════════════════════════
// MemoryIndex keeps two structures per (field, term):
//
//	DocBitmaps: roaring bitmap of document ids  → df
//	Positions:  skip list of (doc, offset)      → postings with positions
//
// plus per-field length tables and per-document records carrying the
// external id, attributes and term frequencies used for term vectors.
// Internal document ids are assigned densely in insertion order.
// ═══════════════════════════════════════════════════════════════════════════════

type fieldIndex struct {
	positions map[string]*SkipList
	docs      map[string]*roaring.Bitmap
	ctf       map[string]int64
	present   *roaring.Bitmap // documents that have this field
	sumLength int64
}

func newFieldIndex() *fieldIndex {
	return &fieldIndex{
		positions: make(map[string]*SkipList),
		docs:      make(map[string]*roaring.Bitmap),
		ctf:       make(map[string]int64),
		present:   roaring.NewBitmap(),
	}
}

type docRecord struct {
	ExternalID string
	Attributes map[string]string
	Lengths    map[string]int
	Terms      map[string]map[string]int // field → stem → tf
}

// MemoryIndex is an Index held entirely in memory. It is safe for
// concurrent readers; writers take an exclusive lock.
type MemoryIndex struct {
	mu         sync.RWMutex
	analyzer   *Analyzer
	fields     map[string]*fieldIndex
	docs       []docRecord
	byExternal map[string]int
	logger     *slog.Logger
}

// NewMemoryIndex creates an empty index. Text passed to AddDocument goes
// through analyzer; a nil analyzer uses the default configuration.
func NewMemoryIndex(analyzer *Analyzer) *MemoryIndex {
	if analyzer == nil {
		analyzer, _ = NewAnalyzer(DefaultAnalyzerConfig())
	}
	return &MemoryIndex{
		analyzer:   analyzer,
		fields:     make(map[string]*fieldIndex),
		byExternal: make(map[string]int),
		logger:     slog.Default(),
	}
}

// SetLogger replaces the logger used for indexing messages.
func (idx *MemoryIndex) SetLogger(logger *slog.Logger) {
	if logger != nil {
		idx.logger = logger
	}
}

// Analyzer returns the analyzer documents were indexed with.
func (idx *MemoryIndex) Analyzer() *Analyzer {
	return idx.analyzer
}

// AddDocument analyzes each field's text and indexes the result. It returns
// the internal id of the new document.
func (idx *MemoryIndex) AddDocument(externalID string, fields map[string]string, attrs map[string]string) (int, error) {
	tokens := make(map[string][]string, len(fields))
	for field, text := range fields {
		tokens[field] = idx.analyzer.Analyze(text)
	}
	return idx.AddTokens(externalID, tokens, attrs)
}

// AddTokens indexes pre-analyzed tokens. The offset of each token is its
// slice index.
func (idx *MemoryIndex) AddTokens(externalID string, fields map[string][]string, attrs map[string]string) (int, error) {
	if externalID == "" {
		return 0, fmt.Errorf("add document: empty external id")
	}
	for field := range fields {
		if !IsKnownField(field) {
			return 0, fmt.Errorf("add document %s: %w %q", externalID, ErrUnknownField, field)
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.byExternal[externalID]; exists {
		return 0, fmt.Errorf("add document: duplicate external id %q", externalID)
	}

	doc := len(idx.docs)
	rec := docRecord{
		ExternalID: externalID,
		Attributes: make(map[string]string, len(attrs)),
		Lengths:    make(map[string]int, len(fields)),
		Terms:      make(map[string]map[string]int, len(fields)),
	}
	for k, v := range attrs {
		rec.Attributes[k] = v
	}

	for field, tokens := range fields {
		fi := idx.field(field)
		fi.present.Add(uint32(doc))
		fi.sumLength += int64(len(tokens))
		rec.Lengths[field] = len(tokens)

		tf := make(map[string]int)
		for offset, token := range tokens {
			idx.indexToken(fi, token, doc, offset)
			tf[token]++
		}
		rec.Terms[field] = tf
	}

	idx.docs = append(idx.docs, rec)
	idx.byExternal[externalID] = doc

	idx.logger.Debug("indexed document",
		slog.Int("docID", doc),
		slog.String("externalID", externalID),
		slog.Int("fields", len(fields)))
	return doc, nil
}

func (idx *MemoryIndex) field(name string) *fieldIndex {
	fi, ok := idx.fields[name]
	if !ok {
		fi = newFieldIndex()
		idx.fields[name] = fi
	}
	return fi
}

func (idx *MemoryIndex) indexToken(fi *fieldIndex, token string, doc, offset int) {
	bm, ok := fi.docs[token]
	if !ok {
		bm = roaring.NewBitmap()
		fi.docs[token] = bm
	}
	bm.Add(uint32(doc))

	sl, ok := fi.positions[token]
	if !ok {
		sl = NewSkipList(int64(len(fi.positions)) + 1)
		fi.positions[token] = sl
	}
	if sl.Insert(Position{DocumentID: doc, Offset: offset}) {
		fi.ctf[token]++
	}
}

// NumDocs returns the number of documents in the collection.
func (idx *MemoryIndex) NumDocs() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// DocCount returns the number of documents that have field.
func (idx *MemoryIndex) DocCount(field string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if fi, ok := idx.fields[field]; ok {
		return int(fi.present.GetCardinality())
	}
	return 0
}

// FieldLength returns the number of tokens of field in doc.
func (idx *MemoryIndex) FieldLength(field string, doc int) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if doc < 0 || doc >= len(idx.docs) {
		return 0
	}
	return idx.docs[doc].Lengths[field]
}

// SumFieldLengths returns the total number of tokens in field.
func (idx *MemoryIndex) SumFieldLengths(field string) int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if fi, ok := idx.fields[field]; ok {
		return fi.sumLength
	}
	return 0
}

// TotalTermFreq returns the collection frequency of term in field.
func (idx *MemoryIndex) TotalTermFreq(field, term string) int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if fi, ok := idx.fields[field]; ok {
		return fi.ctf[term]
	}
	return 0
}

// DocFreq returns the number of documents whose field contains term.
func (idx *MemoryIndex) DocFreq(field, term string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.docFreq(field, term)
}

func (idx *MemoryIndex) docFreq(field, term string) int {
	if fi, ok := idx.fields[field]; ok {
		if bm, ok := fi.docs[term]; ok {
			return int(bm.GetCardinality())
		}
	}
	return 0
}

// Postings materializes the posting list of term in field by walking its
// skip list. An unknown term yields an empty list.
func (idx *MemoryIndex) Postings(field, term string) *PostingList {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	list := NewPostingList(field)
	fi, ok := idx.fields[field]
	if !ok {
		return list
	}
	sl, ok := fi.positions[term]
	if !ok {
		return list
	}

	list.Postings = make([]Posting, 0, idx.docFreq(field, term))
	var (
		current   = -1
		positions []int
	)
	it := sl.Iterator()
	for it.HasNext() {
		p := it.Next()
		if p.DocumentID != current {
			if current >= 0 {
				list.Postings = append(list.Postings, Posting{Doc: current, Positions: positions})
			}
			current = p.DocumentID
			positions = nil
		}
		positions = append(positions, p.Offset)
	}
	if current >= 0 {
		list.Postings = append(list.Postings, Posting{Doc: current, Positions: positions})
	}
	list.CTF = fi.ctf[term]
	return list
}

// Attribute returns a stored document attribute.
func (idx *MemoryIndex) Attribute(name string, doc int) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if doc < 0 || doc >= len(idx.docs) {
		return "", false
	}
	v, ok := idx.docs[doc].Attributes[name]
	return v, ok
}

// ExternalID maps an internal id to the collection's document id.
func (idx *MemoryIndex) ExternalID(doc int) (string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if doc < 0 || doc >= len(idx.docs) {
		return "", fmt.Errorf("%w: internal id %d", ErrNoDocument, doc)
	}
	return idx.docs[doc].ExternalID, nil
}

// InternalID maps a collection document id to its internal id.
func (idx *MemoryIndex) InternalID(externalID string) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	doc, ok := idx.byExternal[externalID]
	if !ok {
		return 0, fmt.Errorf("%w: external id %q", ErrNoDocument, externalID)
	}
	return doc, nil
}

// TermVector returns the stems of field in doc. It reports false when the
// document does not have the field.
func (idx *MemoryIndex) TermVector(field string, doc int) (*TermVector, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if doc < 0 || doc >= len(idx.docs) {
		return nil, false
	}
	terms, ok := idx.docs[doc].Terms[field]
	if !ok {
		return nil, false
	}
	fi := idx.fields[field]
	stats := make([]TermStat, 0, len(terms))
	for stem, tf := range terms {
		stats = append(stats, TermStat{
			Stem:      stem,
			Freq:      tf,
			DocFreq:   idx.docFreq(field, stem),
			TotalFreq: fi.ctf[stem],
		})
	}
	return NewTermVector(field, doc, idx.docs[doc].Lengths[field], stats), true
}
