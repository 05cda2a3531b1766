package qeval

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ═══════════════════════════════════════════════════════════════════════════════
// QUERY PARSER
// ═══════════════════════════════════════════════════════════════════════════════
// Grammar:
//
//	query    := arg*                         (wrapped in the model's default op)
//	arg      := operator | term
//	operator := "#" name ["/" k] "(" [weight] arg ... ")"
//	term     := text ["." field]
//
// EXAMPLES:
// ---------
//
//	apple pie                     → #and(#score(appl) #score(pie))
//	#near/2(new york) city        → #and(#score(#near/2(new york)) #score(citi))
//	#wand(0.7 apple 0.3 pie.title)
//
// Bare terms and inverted operators under a score operator are wrapped in
// #score. Terms pass through the analyzer; a term that analyzes to nothing
// (a stopword) is dropped together with its weight, and so is a score
// operator left without arguments.
// ═══════════════════════════════════════════════════════════════════════════════

// Parser turns query text into operator trees.
type Parser struct {
	analyzer *Analyzer
}

// NewParser returns a parser that analyzes terms with analyzer. With a nil
// analyzer terms are only lowercased.
func NewParser(analyzer *Analyzer) *Parser {
	return &Parser{analyzer: analyzer}
}

// Parse builds the tree for query under model m. It returns a nil node and
// no error when every term of the query was dropped by analysis.
func (p *Parser) Parse(query string, m Model) (*Node, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &SyntaxError{Query: query, Msg: "empty query"}
	}
	s := &scanner{text: query, analyzer: p.analyzer}
	root, err := s.parseArgs(m.DefaultOperator(), true)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, nil
	}
	if len(root.Args) == 1 && !root.Args[0].Op.IsInverted() {
		root = root.Args[0]
	}
	return root, nil
}

// Terms returns the analyzed terms of a bare query, in order. Operators,
// weights and field suffixes are ignored.
func (p *Parser) Terms(query string) []string {
	var terms []string
	for _, tok := range strings.FieldsFunc(query, func(r rune) bool {
		return unicode.IsSpace(r) || r == '(' || r == ')'
	}) {
		if strings.HasPrefix(tok, "#") {
			continue
		}
		if _, err := strconv.ParseFloat(tok, 64); err == nil {
			continue
		}
		term, _, ok := splitField(tok)
		if !ok {
			term = tok
		}
		terms = append(terms, analyzeTerm(p.analyzer, term)...)
	}
	return terms
}

type scanner struct {
	text     string
	pos      int
	analyzer *Analyzer
}

func (s *scanner) errorf(err error, format string, args ...any) error {
	return &SyntaxError{Query: s.text, Pos: s.pos, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.text) && unicode.IsSpace(rune(s.text[s.pos])) {
		s.pos++
	}
}

func (s *scanner) eof() bool {
	return s.pos >= len(s.text)
}

func (s *scanner) peek() byte {
	return s.text[s.pos]
}

// token reads up to the next space or parenthesis.
func (s *scanner) token() string {
	start := s.pos
	for s.pos < len(s.text) {
		c := s.text[s.pos]
		if c == '(' || c == ')' || unicode.IsSpace(rune(c)) {
			break
		}
		s.pos++
	}
	return s.text[start:s.pos]
}

// parseOperator parses "#name[/k](args)" starting at '#'.
func (s *scanner) parseOperator() (*Node, error) {
	start := s.pos
	tok := s.token()
	name, dist, hasDist := strings.Cut(tok, "/")
	op, ok := ParseOperator(name)
	if !ok {
		s.pos = start
		return nil, s.errorf(ErrUnknownOperator, "unknown operator %q", name)
	}

	k := 0
	if op == OpNear || op == OpWindow {
		if !hasDist {
			s.pos = start
			return nil, s.errorf(nil, "%s needs a distance, as in %s/3", op, op)
		}
		n, err := strconv.Atoi(dist)
		if err != nil || n < 0 {
			s.pos = start
			return nil, s.errorf(nil, "invalid distance %q", dist)
		}
		k = n
	} else if hasDist {
		s.pos = start
		return nil, s.errorf(nil, "%s does not take a distance", op)
	}

	s.skipSpace()
	if s.eof() || s.peek() != '(' {
		return nil, s.errorf(nil, "expected ( after %s", op)
	}
	s.pos++

	node, err := s.parseArgs(op, false)
	if err != nil {
		return nil, err
	}
	if node != nil {
		node.Distance = k
	}
	return node, nil
}

// parseArgs reads arguments of op up to the closing parenthesis, or to the
// end of the text at the top level.
func (s *scanner) parseArgs(op Operator, top bool) (*Node, error) {
	var (
		args    []*Node
		weights []float64
	)
	for {
		s.skipSpace()
		if s.eof() {
			if !top {
				return nil, s.errorf(nil, "missing ) for %s", op)
			}
			break
		}
		if s.peek() == ')' {
			if top {
				return nil, s.errorf(nil, "unbalanced )")
			}
			s.pos++
			break
		}

		weight := 1.0
		if op.IsWeighted() {
			tok := s.token()
			w, err := strconv.ParseFloat(tok, 64)
			if err != nil || w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
				return nil, s.errorf(ErrInvalidWeights, "%s expects a finite non-negative weight, got %q", op, tok)
			}
			weight = w
			s.skipSpace()
			if s.eof() || s.peek() == ')' {
				return nil, s.errorf(ErrInvalidWeights, "weight %q has no argument", tok)
			}
		}

		nodes, err := s.parseArg()
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			switch {
			case !op.IsInverted() && op != OpScore && n.Op.IsInverted():
				n = NewScore(n)
			case op.IsInverted() && !n.Op.IsInverted():
				return nil, s.errorf(nil, "%s cannot take the score operator %s", op, n.Op)
			case op == OpScore && !n.Op.IsInverted():
				return nil, s.errorf(nil, "#score takes a term or an inverted operator")
			}
			args = append(args, n)
			weights = append(weights, weight)
		}
	}
	return s.build(op, args, weights)
}

// parseArg reads one argument. A term may expand to several nodes, or to
// none when analysis drops it.
func (s *scanner) parseArg() ([]*Node, error) {
	if s.peek() == '#' {
		n, err := s.parseOperator()
		if err != nil || n == nil {
			return nil, err
		}
		return []*Node{n}, nil
	}

	start := s.pos
	tok := s.token()
	term, field, ok := splitField(tok)
	if !ok {
		s.pos = start
		return nil, s.errorf(ErrUnknownField, "unknown field in %q", tok)
	}
	var nodes []*Node
	for _, t := range analyzeTerm(s.analyzer, term) {
		nodes = append(nodes, NewTerm(t, field))
	}
	return nodes, nil
}

func (s *scanner) build(op Operator, args []*Node, weights []float64) (*Node, error) {
	if !op.IsInverted() && len(args) == 0 {
		return nil, nil
	}
	if op.IsInverted() {
		for _, a := range args[min(1, len(args)):] {
			if a.Field != args[0].Field {
				return nil, s.errorf(nil, "%s mixes fields %s and %s", op, args[0].Field, a.Field)
			}
		}
	}

	switch op {
	case OpSyn:
		return NewSyn(args...), nil
	case OpNear:
		return NewNear(0, args...), nil
	case OpWindow:
		return NewWindow(0, args...), nil
	case OpScore:
		if len(args) != 1 {
			return nil, s.errorf(nil, "#score takes exactly one argument, got %d", len(args))
		}
		return NewScore(args[0]), nil
	case OpAnd:
		return NewAnd(args...), nil
	case OpOr:
		return NewOr(args...), nil
	case OpSum:
		return NewSum(args...), nil
	case OpWAnd:
		n, err := NewWAnd(weights, args...)
		if err != nil {
			return nil, s.errorf(err, "%v", err)
		}
		return n, nil
	case OpWSum:
		n, err := NewWSum(weights, args...)
		if err != nil {
			return nil, s.errorf(err, "%v", err)
		}
		return n, nil
	}
	return nil, s.errorf(ErrUnknownOperator, "unsupported operator %s", op)
}

// splitField separates "term.field". The field defaults to body; a suffix
// that is not a known field is rejected.
func splitField(tok string) (term, field string, ok bool) {
	i := strings.LastIndexByte(tok, '.')
	if i < 0 {
		return tok, FieldBody, true
	}
	field = strings.ToLower(tok[i+1:])
	if !IsKnownField(field) {
		return "", "", false
	}
	return tok[:i], field, true
}

func analyzeTerm(a *Analyzer, term string) []string {
	if a == nil {
		if term = strings.ToLower(term); term != "" {
			return []string{term}
		}
		return nil
	}
	return a.Analyze(term)
}
