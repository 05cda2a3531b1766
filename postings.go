package qeval

// ═══════════════════════════════════════════════════════════════════════════════
// POSTINGS
// ═══════════════════════════════════════════════════════════════════════════════
// A posting list is the per-document occurrence data of one term (or of one
// proximity/synonym operator) inside one field:
//
//	"quick".body → [Doc1: {1, 7}, Doc4: {0}, Doc9: {3, 4, 12}]
//
// Document ids are strictly increasing, and so are the positions inside a
// posting. The iterator below keeps two cursors: one over documents, one over
// the positions of the current document. The position cursor rewinds each
// time the document cursor moves.
// ═══════════════════════════════════════════════════════════════════════════════

// Posting is the occurrence record of a term in a single document.
type Posting struct {
	Doc       int
	Positions []int
}

// TF returns the term frequency in the document.
func (p Posting) TF() int {
	return len(p.Positions)
}

// PostingList is the ordered set of postings for a term in one field.
type PostingList struct {
	Field    string
	Postings []Posting

	// CTF is the collection term frequency. For terms read from the index it
	// comes from the index statistics; for synthetic lists it is the sum of
	// the appended term frequencies.
	CTF int64
}

// NewPostingList returns an empty list for field.
func NewPostingList(field string) *PostingList {
	return &PostingList{Field: field}
}

// DF returns the number of documents in the list.
func (l *PostingList) DF() int {
	return len(l.Postings)
}

// Append adds a posting for doc. Documents must be appended in increasing
// order.
func (l *PostingList) Append(doc int, positions []int) {
	l.Postings = append(l.Postings, Posting{Doc: doc, Positions: positions})
	l.CTF += int64(len(positions))
}

// PostingsIterator walks a PostingList. Exhaustion is a terminal state, not
// an error: HasDoc reports false and the cursor never moves back.
type PostingsIterator struct {
	list *PostingList
	doc  int // index into list.Postings
	loc  int // index into the current posting's positions
}

// NewPostingsIterator returns an iterator positioned at the first document.
func NewPostingsIterator(list *PostingList) *PostingsIterator {
	if list == nil {
		list = &PostingList{}
	}
	return &PostingsIterator{list: list}
}

// HasDoc reports whether the document cursor points at a posting.
func (it *PostingsIterator) HasDoc() bool {
	return it.doc < len(it.list.Postings)
}

// Doc returns the current document id. Callers must check HasDoc first.
func (it *PostingsIterator) Doc() int {
	return it.list.Postings[it.doc].Doc
}

// Posting returns the current posting. Callers must check HasDoc first.
func (it *PostingsIterator) Posting() Posting {
	return it.list.Postings[it.doc]
}

// TF returns the term frequency at the current document, 0 when exhausted.
func (it *PostingsIterator) TF() int {
	if !it.HasDoc() {
		return 0
	}
	return it.list.Postings[it.doc].TF()
}

// AdvanceTo moves the document cursor to the first document >= doc.
func (it *PostingsIterator) AdvanceTo(doc int) {
	it.seek(func(d int) bool { return d < doc })
}

// AdvancePast moves the document cursor to the first document > doc.
func (it *PostingsIterator) AdvancePast(doc int) {
	it.seek(func(d int) bool { return d <= doc })
}

func (it *PostingsIterator) seek(behind func(int) bool) {
	moved := false
	for it.doc < len(it.list.Postings) && behind(it.list.Postings[it.doc].Doc) {
		it.doc++
		moved = true
	}
	if moved {
		it.loc = 0
	}
}

// HasLoc reports whether the position cursor points at a position of the
// current document.
func (it *PostingsIterator) HasLoc() bool {
	return it.HasDoc() && it.loc < len(it.list.Postings[it.doc].Positions)
}

// Loc returns the current position. Callers must check HasLoc first.
func (it *PostingsIterator) Loc() int {
	return it.list.Postings[it.doc].Positions[it.loc]
}

// AdvanceLoc moves the position cursor one step.
func (it *PostingsIterator) AdvanceLoc() {
	it.loc++
}

// AdvanceLocPast moves the position cursor to the first position > loc.
func (it *PostingsIterator) AdvanceLocPast(loc int) {
	for it.HasLoc() && it.Loc() <= loc {
		it.loc++
	}
}
