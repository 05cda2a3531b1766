package qeval

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

// newProximityIndex holds one document with a at positions 1 and 10 and b
// at positions 2 and 4, plus a second document where they are far apart.
func newProximityIndex(t *testing.T) *MemoryIndex {
	t.Helper()
	idx := NewMemoryIndex(nil)
	docs := [][]string{
		{"x", "a", "b", "x", "b", "x", "x", "x", "x", "x", "a"},
		{"b", "x", "x", "x", "a"},
	}
	for i, tokens := range docs {
		ext := []string{"p0", "p1"}[i]
		if _, err := idx.AddTokens(ext, map[string][]string{FieldBody: tokens}, nil); err != nil {
			t.Fatal(err)
		}
	}
	return idx
}

func initialized(t *testing.T, idx Index, n *Node, m Model) *Node {
	t.Helper()
	if err := n.Initialize(idx, m); err != nil {
		t.Fatalf("Initialize(%s) error = %v", n, err)
	}
	return n
}

// ═══════════════════════════════════════════════════════════════════════════════
// POSTINGS ITERATOR TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestPostingsIterator_Cursors(t *testing.T) {
	list := NewPostingList(FieldBody)
	list.Append(2, []int{0, 5})
	list.Append(4, []int{3})
	list.Append(9, []int{1, 2, 8})

	it := NewPostingsIterator(list)
	if !it.HasDoc() || it.Doc() != 2 || it.TF() != 2 {
		t.Fatalf("initial cursor at doc %d tf %d", it.Doc(), it.TF())
	}

	it.AdvanceLocPast(0)
	if !it.HasLoc() || it.Loc() != 5 {
		t.Errorf("AdvanceLocPast(0) at %d, want 5", it.Loc())
	}
	it.AdvanceLoc()
	if it.HasLoc() {
		t.Error("HasLoc after the last position")
	}

	it.AdvanceTo(4)
	if it.Doc() != 4 || !it.HasLoc() || it.Loc() != 3 {
		t.Errorf("AdvanceTo(4) at doc %d, loc cursor not rewound", it.Doc())
	}
	it.AdvanceTo(4)
	if it.Doc() != 4 {
		t.Errorf("AdvanceTo(current) moved to %d", it.Doc())
	}
	it.AdvancePast(4)
	if it.Doc() != 9 {
		t.Errorf("AdvancePast(4) at doc %d, want 9", it.Doc())
	}
	it.AdvancePast(9)
	if it.HasDoc() || it.HasLoc() || it.TF() != 0 {
		t.Error("iterator not exhausted after the last document")
	}
	it.AdvanceTo(0)
	if it.HasDoc() {
		t.Error("exhausted iterator moved backwards")
	}

	if list.CTF != 6 || list.DF() != 3 {
		t.Errorf("CTF, DF = %d, %d, want 6, 3", list.CTF, list.DF())
	}
	if NewPostingsIterator(nil).HasDoc() {
		t.Error("iterator over nil list has a document")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// PROXIMITY OPERATOR TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestNode_Near(t *testing.T) {
	idx := newProximityIndex(t)
	tests := []struct {
		k    int
		want []Posting
	}{
		// a@1 → b@2 emits 2; a@10 has no b after it.
		{2, []Posting{{Doc: 0, Positions: []int{2}}}},
		{1, []Posting{{Doc: 0, Positions: []int{2}}}},
		// With a wider window a@1 pairs with b@2 and nothing else: both
		// cursors move past their match.
		{5, []Posting{{Doc: 0, Positions: []int{2}}}},
		{0, nil},
	}
	for _, tt := range tests {
		n := initialized(t, idx, NewNear(tt.k, NewTerm("a", ""), NewTerm("b", "")), NewModel(Indri))
		if got := n.Postings().Postings; !reflect.DeepEqual(got, tt.want) {
			t.Errorf("#near/%d(a b) = %v, want %v", tt.k, got, tt.want)
		}
	}
}

func TestNode_Near_ThreeArguments(t *testing.T) {
	idx := NewMemoryIndex(nil)
	idx.AddTokens("n0", map[string][]string{FieldBody: {"new", "york", "city", "new", "x", "york", "x", "x", "city"}}, nil)

	n := initialized(t, idx, NewNear(1, NewTerm("new", ""), NewTerm("york", ""), NewTerm("city", "")), NewModel(BM25))
	want := []Posting{{Doc: 0, Positions: []int{2}}}
	if got := n.Postings().Postings; !reflect.DeepEqual(got, want) {
		t.Errorf("#near/1(new york city) = %v, want %v", got, want)
	}
	if n.Postings().CTF != 1 {
		t.Errorf("CTF = %d, want 1", n.Postings().CTF)
	}
}

func TestNode_Window(t *testing.T) {
	idx := newProximityIndex(t)
	tests := []struct {
		name string
		node *Node
		want []Posting
	}{
		{
			// Unordered: p1 has b@0 and a@4.
			name: "window/4 (a b)",
			node: NewWindow(4, NewTerm("a", ""), NewTerm("b", "")),
			want: []Posting{{Doc: 0, Positions: []int{2}}, {Doc: 1, Positions: []int{4}}},
		},
		{
			// p0: a@1 b@2 span 1 → emit 2; then a@10 b@4 → b moves, exhausted.
			name: "window/1 (b a)",
			node: NewWindow(1, NewTerm("b", ""), NewTerm("a", "")),
			want: []Posting{{Doc: 0, Positions: []int{2}}},
		},
		{
			// Two copies of one term always agree; every match consumes
			// both cursors.
			name: "window/0 (a a)",
			node: NewWindow(0, NewTerm("a", ""), NewTerm("a", "")),
			want: []Posting{{Doc: 0, Positions: []int{1, 10}}, {Doc: 1, Positions: []int{4}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := initialized(t, idx, tt.node, NewModel(UnrankedBoolean))
			if got := n.Postings().Postings; !reflect.DeepEqual(got, tt.want) {
				t.Errorf("%s = %v, want %v", tt.node, got, tt.want)
			}
		})
	}
}

func TestNode_Window_TieMovesLowestArgument(t *testing.T) {
	idx := NewMemoryIndex(nil)
	// Two copies of c tie at every position while e sits at 5.
	idx.AddTokens("w0", map[string][]string{FieldBody: {"c", "x", "x", "c", "x", "e"}}, nil)

	n := initialized(t, idx, NewWindow(2, NewTerm("c", ""), NewTerm("c", ""), NewTerm("e", "")), NewModel(Indri))
	// c,c at 0,0: arg 0 moves to 3. c,c at 3,0: arg 1 moves to 3.
	// 3,3,5: span 2 → emit 5.
	want := []Posting{{Doc: 0, Positions: []int{5}}}
	if got := n.Postings().Postings; !reflect.DeepEqual(got, want) {
		t.Errorf("#window/2(c c e) = %v, want %v", got, want)
	}
}

func TestNode_Syn(t *testing.T) {
	idx := newTestIndex(t)
	n := initialized(t, idx, NewSyn(NewTerm("bird", ""), NewTerm("fish", ""), NewTerm("cat", "")), NewModel(RankedBoolean))
	want := []Posting{
		{Doc: 0, Positions: []int{1}},
		{Doc: 1, Positions: []int{1}},
		{Doc: 2, Positions: []int{0, 1, 2, 3}},
	}
	if got := n.Postings().Postings; !reflect.DeepEqual(got, want) {
		t.Errorf("#syn(bird fish cat) = %v, want %v", got, want)
	}
	if n.Postings().CTF != 6 {
		t.Errorf("CTF = %d, want 6", n.Postings().CTF)
	}
}

func TestNode_Syn_OfSameTermDeduplicates(t *testing.T) {
	idx := newTestIndex(t)
	n := initialized(t, idx, NewSyn(NewTerm("dog", ""), NewTerm("dog", "")), NewModel(RankedBoolean))
	want := []Posting{{Doc: 0, Positions: []int{0, 2}}, {Doc: 1, Positions: []int{0}}}
	if got := n.Postings().Postings; !reflect.DeepEqual(got, want) {
		t.Errorf("#syn(dog dog) = %v, want %v", got, want)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// ITERATION TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestNode_HasMatch_StrictlyIncreasing(t *testing.T) {
	idx := newTestIndex(t)
	term := func(s string) *Node { return NewScore(NewTerm(s, "")) }
	tests := []struct {
		kind ModelKind
		root *Node
	}{
		{UnrankedBoolean, NewOr(term("dog"), NewAnd(term("cat"), term("fish")))},
		{RankedBoolean, NewAnd(term("dog"), NewOr(term("cat"), term("bird")))},
		{BM25, NewSum(term("fish"), term("dog"), term("cat"))},
		{Indri, mustWAnd(t, []float64{1, 3}, term("bird"), NewAnd(term("cat"), term("dog")))},
	}
	for _, tt := range tests {
		m := NewModel(tt.kind)
		root := initialized(t, idx, tt.root, m)

		last := -1
		for root.HasMatch(m) {
			doc := root.Match()
			if doc <= last {
				t.Fatalf("%s: document %d after %d", tt.kind, doc, last)
			}
			if !root.HasMatch(m) || root.Match() != doc {
				t.Fatalf("%s: repeated HasMatch moved the node", tt.kind)
			}
			last = doc
			root.AdvancePast(doc)
		}
		if root.HasMatch(m) {
			t.Errorf("%s: HasMatch true after exhaustion", tt.kind)
		}
	}
}

func mustWAnd(t *testing.T, weights []float64, args ...*Node) *Node {
	t.Helper()
	n, err := NewWAnd(weights, args...)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestNode_HasMatch_Policies(t *testing.T) {
	idx := newTestIndex(t)
	collect := func(n *Node, m Model) []int {
		var docs []int
		initialized(t, idx, n, m)
		for n.HasMatch(m) {
			docs = append(docs, n.Match())
			n.AdvancePast(n.Match())
		}
		return docs
	}
	and := func() *Node { return NewAnd(NewScore(NewTerm("dog", "")), NewScore(NewTerm("cat", ""))) }

	if got := collect(and(), NewModel(RankedBoolean)); !reflect.DeepEqual(got, []int{0}) {
		t.Errorf("boolean #and matched %v, want [0]", got)
	}
	if got := collect(and(), NewModel(Indri)); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Errorf("Indri #and matched %v, want [0 1 2]", got)
	}
	sum := NewSum(NewScore(NewTerm("bird", "")), NewScore(NewTerm("fish", "")))
	if got := collect(sum, NewModel(BM25)); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Errorf("#sum matched %v, want [1 2]", got)
	}
}

func TestNode_AdvanceTo(t *testing.T) {
	idx := newTestIndex(t)
	m := NewModel(RankedBoolean)
	n := initialized(t, idx, NewOr(NewScore(NewTerm("dog", "")), NewScore(NewTerm("cat", ""))), m)

	n.AdvanceTo(2)
	if !n.HasMatch(m) || n.Match() != 2 {
		t.Fatalf("after AdvanceTo(2) match = %d", n.Match())
	}
	n.AdvanceTo(2)
	if !n.HasMatch(m) || n.Match() != 2 {
		t.Error("AdvanceTo(current) lost the match")
	}
	n.AdvancePast(2)
	if n.HasMatch(m) {
		t.Error("match after the last document")
	}
}

func TestNode_ZeroArguments(t *testing.T) {
	idx := newTestIndex(t)
	tests := []struct {
		kind ModelKind
		node *Node
	}{
		{UnrankedBoolean, NewAnd()},
		{RankedBoolean, NewOr()},
		{BM25, NewSum()},
		{Indri, NewAnd()},
		{Indri, NewScore(NewNear(3))},
		{BM25, NewScore(NewSyn())},
	}
	for _, tt := range tests {
		got, err := Evaluate(idx, tt.node, NewModel(tt.kind))
		if err != nil {
			t.Errorf("%s under %s: error = %v", tt.node, tt.kind, err)
			continue
		}
		if got.Len() != 0 {
			t.Errorf("%s under %s matched %v", tt.node, tt.kind, got.Entries())
		}
	}
	if _, err := NewWAnd(nil); err != nil {
		t.Errorf("NewWAnd with no arguments error = %v", err)
	}
}

func TestNode_Initialize_Validation(t *testing.T) {
	idx := newTestIndex(t)
	tests := []struct {
		name string
		node *Node
		want error
	}{
		{"empty term", NewScore(NewTerm("", "")), ErrSyntax},
		{"unknown field", NewScore(NewTerm("dog", "abstract")), ErrUnknownField},
		{"unscored argument", NewAnd(NewTerm("dog", "")), ErrSyntax},
		{"score under near", NewScore(NewNear(1, NewScore(NewTerm("dog", "")))), ErrSyntax},
		{"mixed fields", NewScore(NewWindow(2, NewTerm("dog", ""), NewTerm("dog", FieldTitle))), ErrSyntax},
		{"negative distance", NewScore(NewNear(-1, NewTerm("dog", ""))), ErrSyntax},
		{"weights mismatch", &Node{Op: OpWSum, Args: []*Node{NewScore(NewTerm("dog", ""))}}, ErrInvalidWeights},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.node.Initialize(idx, NewModel(Indri)); !errors.Is(err, tt.want) {
				t.Errorf("Initialize error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewWAnd_InvalidWeights(t *testing.T) {
	arg := NewScore(NewTerm("dog", ""))
	for name, tt := range map[string]struct {
		weights []float64
		args    []*Node
	}{
		"count":    {[]float64{1, 2}, []*Node{arg}},
		"negative": {[]float64{-1}, []*Node{arg}},
		"zero sum": {[]float64{0}, []*Node{arg}},
		"nan":      {[]float64{math.NaN()}, []*Node{arg}},
		"infinite": {[]float64{math.Inf(1)}, []*Node{arg}},
		"overflow": {[]float64{math.MaxFloat64, math.MaxFloat64}, []*Node{arg, arg}},
	} {
		if _, err := NewWAnd(tt.weights, tt.args...); !errors.Is(err, ErrInvalidWeights) {
			t.Errorf("%s: error = %v, want ErrInvalidWeights", name, err)
		}
		if _, err := NewWSum(tt.weights, tt.args...); !errors.Is(err, ErrInvalidWeights) {
			t.Errorf("%s: #wsum error = %v, want ErrInvalidWeights", name, err)
		}
	}
}

func TestNode_DefaultScore(t *testing.T) {
	idx := newTestIndex(t)
	m := NewModel(Indri)
	n := initialized(t, idx, NewScore(NewTerm("zebra", "")), m)

	// An unseen term counts as half an occurrence.
	want := IndriScore(m.Indri, 0, 0.5, 3, 9)
	if got := n.DefaultScore(m, 0); !almostEqual(got, want) {
		t.Errorf("DefaultScore = %g, want %g", got, want)
	}
	if got := n.DefaultScore(NewModel(BM25), 0); got != 0 {
		t.Errorf("BM25 DefaultScore = %g, want 0", got)
	}
}

func TestNode_String(t *testing.T) {
	n, _ := NewWSum([]float64{0.25, 1},
		NewScore(NewNear(3, NewTerm("a", FieldTitle), NewTerm("b", FieldTitle))),
		NewAnd(NewScore(NewTerm("c", ""))))
	want := "#wsum(0.25 #score(#near/3(a.title b.title)) 1 #and(#score(c)))"
	if got := n.String(); got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
	var nilNode *Node
	if nilNode.String() != "" {
		t.Error("nil node renders text")
	}
}
