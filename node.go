package qeval

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════════
// OPERATOR TREE
// ═══════════════════════════════════════════════════════════════════════════════
// Two families of operators share one Node type:
//
//	Inverted operators (TERM, SYN, NEAR/k, WINDOW/k) produce a posting list.
//	TERM reads it from the index; the others merge their children's lists
//	eagerly during Initialize.
//
//	Score operators (SCORE, AND, OR, SUM, WAND, WSUM) iterate documents
//	lazily and combine child scores under the active retrieval model.
//
// Every node exposes the same document iterator:
//
//	for root.HasMatch(m) {
//	    doc := root.Match()
//	    score := root.Score(m)
//	    root.AdvancePast(doc)
//	}
//
// Document ids seen through HasMatch are strictly increasing. A tree holds
// cursor state and serves exactly one evaluation; build a new tree for the
// next query.
// ═══════════════════════════════════════════════════════════════════════════════

// Operator identifies a node variant.
type Operator int

const (
	OpTerm Operator = iota
	OpSyn
	OpNear
	OpWindow
	OpScore
	OpAnd
	OpOr
	OpSum
	OpWAnd
	OpWSum
)

var operatorNames = [...]string{
	OpTerm:   "term",
	OpSyn:    "#syn",
	OpNear:   "#near",
	OpWindow: "#window",
	OpScore:  "#score",
	OpAnd:    "#and",
	OpOr:     "#or",
	OpSum:    "#sum",
	OpWAnd:   "#wand",
	OpWSum:   "#wsum",
}

func (op Operator) String() string {
	if op >= 0 && int(op) < len(operatorNames) {
		return operatorNames[op]
	}
	return "Operator(" + strconv.Itoa(int(op)) + ")"
}

// IsInverted reports whether op produces a posting list.
func (op Operator) IsInverted() bool {
	return op <= OpWindow
}

// IsWeighted reports whether op takes a weight per argument.
func (op Operator) IsWeighted() bool {
	return op == OpWAnd || op == OpWSum
}

// ParseOperator resolves a query-language operator name such as "#wand" or
// "#near". Case is ignored.
func ParseOperator(name string) (Operator, bool) {
	name = strings.ToLower(name)
	for op, n := range operatorNames {
		if n == name && Operator(op) != OpTerm {
			return Operator(op), true
		}
	}
	return 0, false
}

type matchState uint8

const (
	matchUnknown matchState = iota
	matchFound
	matchExhausted
)

type matchPolicy uint8

const (
	policyAll matchPolicy = iota
	policyMin
	policyFirst
)

// Node is one operator of a query tree.
type Node struct {
	Op       Operator
	Field    string  // inverted operators only
	Term     string  // OpTerm only
	Distance int     // OpNear and OpWindow only
	Args     []*Node // children, in query order
	Weights  []float64

	weightSum float64

	idx      Index
	postings *PostingList
	iter     *PostingsIterator
	stats    termStats

	state    matchState
	matchDoc int
}

// termStats caches the document-independent statistics a SCORE node needs.
type termStats struct {
	numDocs int
	df      int
	ctf     float64
	sumLen  float64
	avgLen  float64
}

// NewTerm returns a leaf reading term from field. An empty field means body.
func NewTerm(term, field string) *Node {
	if field == "" {
		field = FieldBody
	}
	return &Node{Op: OpTerm, Term: term, Field: field}
}

// NewSyn returns a synonym operator: the union of its arguments' postings.
func NewSyn(args ...*Node) *Node {
	return &Node{Op: OpSyn, Field: firstField(args), Args: args}
}

// NewNear returns an ordered proximity operator: each argument must follow
// the previous one within k positions.
func NewNear(k int, args ...*Node) *Node {
	return &Node{Op: OpNear, Distance: k, Field: firstField(args), Args: args}
}

// NewWindow returns an unordered proximity operator: all arguments must
// occur inside a span of at most k positions.
func NewWindow(k int, args ...*Node) *Node {
	return &Node{Op: OpWindow, Distance: k, Field: firstField(args), Args: args}
}

// NewScore turns an inverted operator into a scored document iterator.
func NewScore(arg *Node) *Node {
	return &Node{Op: OpScore, Args: []*Node{arg}}
}

// NewAnd returns an AND operator.
func NewAnd(args ...*Node) *Node {
	return &Node{Op: OpAnd, Args: args}
}

// NewOr returns an OR operator.
func NewOr(args ...*Node) *Node {
	return &Node{Op: OpOr, Args: args}
}

// NewSum returns a SUM operator.
func NewSum(args ...*Node) *Node {
	return &Node{Op: OpSum, Args: args}
}

// NewWAnd returns a weighted AND. weights[i] belongs to args[i].
func NewWAnd(weights []float64, args ...*Node) (*Node, error) {
	return newWeighted(OpWAnd, weights, args)
}

// NewWSum returns a weighted SUM. weights[i] belongs to args[i].
func NewWSum(weights []float64, args ...*Node) (*Node, error) {
	return newWeighted(OpWSum, weights, args)
}

func newWeighted(op Operator, weights []float64, args []*Node) (*Node, error) {
	if len(weights) != len(args) {
		return nil, fmt.Errorf("%w: %s has %d weights for %d arguments", ErrInvalidWeights, op, len(weights), len(args))
	}
	var sum float64
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: %s weight %g is not a finite non-negative number", ErrInvalidWeights, op, w)
		}
		sum += w
	}
	if math.IsInf(sum, 0) {
		return nil, fmt.Errorf("%w: %s weights overflow", ErrInvalidWeights, op)
	}
	if len(weights) > 0 && sum == 0 {
		return nil, fmt.Errorf("%w: %s weights sum to zero", ErrInvalidWeights, op)
	}
	return &Node{Op: op, Args: args, Weights: weights, weightSum: sum}, nil
}

func firstField(args []*Node) string {
	if len(args) > 0 {
		return args[0].Field
	}
	return FieldBody
}

// ═══════════════════════════════════════════════════════════════════════════════
// INITIALIZATION
// ═══════════════════════════════════════════════════════════════════════════════

// Initialize checks the tree's shape and the model's support for every
// operator, fetches term postings and materializes proximity and synonym
// lists. It must be called once before iteration.
func (n *Node) Initialize(idx Index, m Model) error {
	if err := n.validate(); err != nil {
		return err
	}
	return n.initialize(idx, m)
}

func (n *Node) validate() error {
	switch {
	case n.Op == OpTerm:
		if n.Term == "" {
			return fmt.Errorf("%w: empty term", ErrSyntax)
		}
		if !IsKnownField(n.Field) {
			return fmt.Errorf("%w %q", ErrUnknownField, n.Field)
		}
		if len(n.Args) > 0 {
			return fmt.Errorf("%w: term %q has arguments", ErrSyntax, n.Term)
		}
	case n.Op.IsInverted():
		for _, a := range n.Args {
			if !a.Op.IsInverted() {
				return fmt.Errorf("%w: %s cannot take the score operator %s", ErrSyntax, n.Op, a.Op)
			}
			if a.Field != n.Field {
				return fmt.Errorf("%w: %s mixes fields %s and %s", ErrSyntax, n.Op, n.Field, a.Field)
			}
		}
		if n.Distance < 0 {
			return fmt.Errorf("%w: %s/%d has a negative distance", ErrSyntax, n.Op, n.Distance)
		}
	case n.Op == OpScore:
		if len(n.Args) != 1 || !n.Args[0].Op.IsInverted() {
			return fmt.Errorf("%w: %s takes exactly one inverted argument", ErrSyntax, n.Op)
		}
	default:
		for _, a := range n.Args {
			if a.Op.IsInverted() {
				return fmt.Errorf("%w: %s argument %s is not scored", ErrSyntax, n.Op, a)
			}
		}
		if n.Op.IsWeighted() && len(n.Weights) != len(n.Args) {
			return fmt.Errorf("%w: %s has %d weights for %d arguments", ErrInvalidWeights, n.Op, len(n.Weights), len(n.Args))
		}
	}
	for _, a := range n.Args {
		if err := a.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) initialize(idx Index, m Model) error {
	if !m.Supports(n.Op) {
		return &ModelError{Model: m.Kind, Op: n.Op}
	}
	for _, a := range n.Args {
		if err := a.initialize(idx, m); err != nil {
			return err
		}
	}
	n.idx = idx
	n.state = matchUnknown

	switch n.Op {
	case OpTerm:
		n.postings = idx.Postings(n.Field, n.Term)
		if n.postings == nil {
			n.postings = NewPostingList(n.Field)
		}
	case OpSyn:
		n.postings = n.evaluateSyn()
	case OpNear:
		n.postings = n.evaluateNear()
	case OpWindow:
		n.postings = n.evaluateWindow()
	case OpScore:
		n.stats = collectStats(idx, n.Args[0])
		return nil
	default:
		if n.Op.IsWeighted() && n.weightSum == 0 {
			for _, w := range n.Weights {
				n.weightSum += w
			}
		}
		return nil
	}
	n.iter = NewPostingsIterator(n.postings)
	return nil
}

func collectStats(idx Index, arg *Node) termStats {
	s := termStats{
		numDocs: idx.NumDocs(),
		df:      arg.postings.DF(),
		ctf:     float64(arg.postings.CTF),
		sumLen:  float64(idx.SumFieldLengths(arg.Field)),
	}
	if count := idx.DocCount(arg.Field); count > 0 {
		s.avgLen = s.sumLen / float64(count)
	}
	return s
}

// Postings returns the list of an initialized inverted operator.
func (n *Node) Postings() *PostingList {
	return n.postings
}

// ═══════════════════════════════════════════════════════════════════════════════
// DOCUMENT ITERATION
// ═══════════════════════════════════════════════════════════════════════════════
// Match policies:
//
//	ALL   every child is on the same document      (boolean AND)
//	MIN   at least one child matches; the match is the smallest child id
//	      (SUM, OR, WAND, WSUM, and AND under Indri so absent terms can
//	      still contribute their smoothed probability)
//	FIRST delegate to the single child             (SCORE)
//
// The outcome is cached until the node is advanced past it.
// ═══════════════════════════════════════════════════════════════════════════════

func (n *Node) policy(m Model) matchPolicy {
	switch n.Op {
	case OpScore:
		return policyFirst
	case OpAnd:
		if m.Kind == Indri {
			return policyMin
		}
		return policyAll
	}
	return policyMin
}

// HasMatch positions the node on its next matching document and reports
// whether there is one.
func (n *Node) HasMatch(m Model) bool {
	if n.Op.IsInverted() {
		if n.iter != nil && n.iter.HasDoc() {
			n.state, n.matchDoc = matchFound, n.iter.Doc()
			return true
		}
		n.state = matchExhausted
		return false
	}

	switch n.state {
	case matchFound:
		return true
	case matchExhausted:
		return false
	}

	var (
		doc int
		ok  bool
	)
	switch n.policy(m) {
	case policyAll:
		doc, ok = n.matchAll(m)
	case policyMin:
		doc, ok = n.matchMin(m)
	case policyFirst:
		if ok = len(n.Args) > 0 && n.Args[0].HasMatch(m); ok {
			doc = n.Args[0].Match()
		}
	}
	if !ok {
		n.state = matchExhausted
		return false
	}
	n.state, n.matchDoc = matchFound, doc
	return true
}

func (n *Node) matchAll(m Model) (int, bool) {
	if len(n.Args) == 0 || !n.Args[0].HasMatch(m) {
		return 0, false
	}
	candidate := n.Args[0].Match()
	for {
		agreed := true
		for _, a := range n.Args {
			a.AdvanceTo(candidate)
			if !a.HasMatch(m) {
				return 0, false
			}
			if d := a.Match(); d > candidate {
				candidate = d
				agreed = false
				break
			}
		}
		if agreed {
			return candidate, true
		}
	}
}

func (n *Node) matchMin(m Model) (int, bool) {
	found := false
	min := 0
	for _, a := range n.Args {
		if a.HasMatch(m) {
			if d := a.Match(); !found || d < min {
				min = d
				found = true
			}
		}
	}
	return min, found
}

// Match returns the document found by the last successful HasMatch.
func (n *Node) Match() int {
	return n.matchDoc
}

// matchedAt reports whether the node is positioned on doc.
func (n *Node) matchedAt(m Model, doc int) bool {
	return n.HasMatch(m) && n.matchDoc == doc
}

// AdvancePast moves every cursor of the subtree beyond doc.
func (n *Node) AdvancePast(doc int) {
	if n.Op.IsInverted() {
		if n.iter != nil {
			n.iter.AdvancePast(doc)
		}
		return
	}
	for _, a := range n.Args {
		a.AdvancePast(doc)
	}
	if n.state == matchFound && n.matchDoc <= doc {
		n.state = matchUnknown
	}
}

// AdvanceTo moves every cursor of the subtree to the first document >= doc.
func (n *Node) AdvanceTo(doc int) {
	if n.Op.IsInverted() {
		if n.iter != nil {
			n.iter.AdvanceTo(doc)
		}
		return
	}
	for _, a := range n.Args {
		a.AdvanceTo(doc)
	}
	if n.state == matchFound && n.matchDoc < doc {
		n.state = matchUnknown
	}
}

// String renders the node in query syntax. Terms in fields other than body
// carry their field suffix.
func (n *Node) String() string {
	if n == nil {
		return ""
	}
	if n.Op == OpTerm {
		if n.Field == FieldBody {
			return n.Term
		}
		return n.Term + "." + n.Field
	}
	var b strings.Builder
	b.WriteString(n.Op.String())
	if n.Op == OpNear || n.Op == OpWindow {
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(n.Distance))
	}
	b.WriteByte('(')
	for i, a := range n.Args {
		if i > 0 {
			b.WriteByte(' ')
		}
		if n.Op.IsWeighted() && i < len(n.Weights) {
			b.WriteString(strconv.FormatFloat(n.Weights[i], 'g', -1, 64))
			b.WriteByte(' ')
		}
		b.WriteString(a.String())
	}
	b.WriteByte(')')
	return b.String()
}
