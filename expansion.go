package qeval

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PSEUDO-RELEVANCE FEEDBACK
// ═══════════════════════════════════════════════════════════════════════════════
// The top documents of an initial ranking are assumed relevant. Every stem
// found in them becomes a candidate and is scored by how strongly the top
// documents, weighted by their retrieval scores, predict it:
//
//	p(t)      = ctf(t) / sumLen
//	score(t)  = Σ_d  score(d) · (tf(t,d) + μ·p(t)) / (len(d) + μ)  ·  ln(sumLen / ctf(t))
//
// The sum runs over all top documents, including those where tf is 0. The
// best terms form a learned query that is blended with the original:
//
//	#wand( w  #and(original)  1-w  #wand( s1 t1  s2 t2 ... ) )
//
// Stems containing '.' or ',' are not content words and never become
// candidates.
// ═══════════════════════════════════════════════════════════════════════════════

// FeedbackParams configures expansion.
type FeedbackParams struct {
	Docs       int     // top documents mined for terms
	Terms      int     // terms kept in the learned query
	Mu         float64 // Dirichlet prior of the term scores
	OrigWeight float64 // weight of the original query, in [0, 1]
	Field      string  // field the terms are mined from; empty means body
}

// DefaultFeedbackParams returns common settings.
func DefaultFeedbackParams() FeedbackParams {
	return FeedbackParams{Docs: 10, Terms: 10, Mu: 0, OrigWeight: 0.5, Field: FieldBody}
}

// Validate checks parameter ranges.
func (p FeedbackParams) Validate() error {
	switch {
	case p.Docs <= 0:
		return fmt.Errorf("feedback docs must be positive, got %d", p.Docs)
	case p.Terms <= 0:
		return fmt.Errorf("feedback terms must be positive, got %d", p.Terms)
	case p.Mu < 0:
		return fmt.Errorf("feedback mu must not be negative, got %g", p.Mu)
	case p.OrigWeight < 0 || p.OrigWeight > 1:
		return fmt.Errorf("feedback original weight must be in [0,1], got %g", p.OrigWeight)
	case p.Field != "" && !IsKnownField(p.Field):
		return fmt.Errorf("feedback %w %q", ErrUnknownField, p.Field)
	}
	return nil
}

// ExpansionTerm is a scored candidate.
type ExpansionTerm struct {
	Term  string
	CTF   int64
	Score float64
}

// Expander derives expanded queries from rankings.
type Expander struct {
	index  Index
	params FeedbackParams
	logger *slog.Logger
}

// NewExpander validates params and returns an Expander.
func NewExpander(idx Index, params FeedbackParams, logger *slog.Logger) (*Expander, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.Field == "" {
		params.Field = FieldBody
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{index: idx, params: params, logger: logger}, nil
}

// Params returns the effective parameters.
func (e *Expander) Params() FeedbackParams {
	return e.params
}

// Enabled reports whether expansion can change a ranking. With all weight on
// the original query the learned terms would only add documents the
// original query never matched, so expansion is skipped.
func (e *Expander) Enabled() bool {
	return e.params.OrigWeight < 1
}

// Candidates returns the best expansion terms for ranking, highest score
// first, ties broken by term. ranking is sorted in place.
func (e *Expander) Candidates(ranking *ScoreList) []ExpansionTerm {
	ranking.Sort()
	top := min(e.params.Docs, ranking.Len())
	if top == 0 {
		return nil
	}
	field := e.params.Field
	sumLen := float64(e.index.SumFieldLengths(field))

	vectors := make([]*TermVector, top)
	ctf := make(map[string]int64)
	for i := 0; i < top; i++ {
		tv, ok := e.index.TermVector(field, ranking.Doc(i))
		if !ok {
			continue
		}
		vectors[i] = tv
		for j := 0; j < tv.Len(); j++ {
			st := tv.Stem(j)
			if strings.ContainsAny(st.Stem, ".,") {
				continue
			}
			ctf[st.Stem] = st.TotalFreq
		}
	}

	mu := e.params.Mu
	terms := make([]ExpansionTerm, 0, len(ctf))
	for term, cf := range ctf {
		c := float64(cf)
		mle := c / sumLen
		idf := math.Log(sumLen / c)

		var score float64
		for i := 0; i < top; i++ {
			var tf, docLen float64
			if tv := vectors[i]; tv != nil {
				tf = float64(tv.Freq(term))
				docLen = float64(tv.Length)
			}
			if docLen+mu == 0 {
				continue
			}
			score += ranking.Score(i) * (tf + mu*mle) / (docLen + mu)
		}
		terms = append(terms, ExpansionTerm{Term: term, CTF: cf, Score: score * idf})
	}

	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Score != terms[j].Score {
			return terms[i].Score > terms[j].Score
		}
		return terms[i].Term < terms[j].Term
	})
	if len(terms) > e.params.Terms {
		terms = terms[:e.params.Terms]
	}
	return terms
}

// roundWeight keeps four decimals, the precision written to expansion query
// files.
func roundWeight(w float64) float64 {
	return math.Round(w*10000) / 10000
}

// LearnedQuery turns terms into a weighted AND. It returns a nil node when
// no term keeps a non-zero weight after rounding.
func (e *Expander) LearnedQuery(terms []ExpansionTerm) (*Node, string, error) {
	var (
		b       strings.Builder
		args    []*Node
		weights []float64
		total   float64
	)
	b.WriteString("#wand(")
	for _, t := range terms {
		w := roundWeight(t.Score)
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(w, 'f', 4, 64))
		b.WriteByte(' ')
		b.WriteString(t.Term)
		if e.params.Field != FieldBody {
			b.WriteString("." + e.params.Field)
		}
		args = append(args, NewScore(NewTerm(t.Term, e.params.Field)))
		weights = append(weights, w)
		total += w
	}
	b.WriteByte(')')

	if total == 0 {
		return nil, b.String(), nil
	}
	n, err := NewWAnd(weights, args...)
	if err != nil {
		return nil, "", err
	}
	return n, b.String(), nil
}

// Expansion is the outcome of one feedback pass.
type Expansion struct {
	Query   *Node           // tree to evaluate
	Learned string          // learned query text, as written to expansion files
	Terms   []ExpansionTerm // terms of the learned query
}

// Expand builds the expanded query for original from ranking. original must
// be a fresh tree that has not been evaluated. When nothing can be learned
// the original tree is returned unchanged.
func (e *Expander) Expand(original *Node, ranking *ScoreList) (Expansion, error) {
	if original == nil || !e.Enabled() {
		return Expansion{Query: original}, nil
	}
	terms := e.Candidates(ranking)
	learned, text, err := e.LearnedQuery(terms)
	if err != nil {
		return Expansion{}, err
	}
	if learned == nil {
		e.logger.Warn("no expansion terms learned", slog.String("query", original.String()))
		return Expansion{Query: original, Learned: text}, nil
	}

	orig := original
	if orig.Op != OpAnd {
		orig = NewAnd(orig)
	}
	combined, err := NewWAnd([]float64{e.params.OrigWeight, 1 - e.params.OrigWeight}, orig, learned)
	if err != nil {
		return Expansion{}, err
	}
	e.logger.Debug("expanded query",
		slog.String("query", original.String()),
		slog.Int("terms", len(terms)),
		slog.String("learned", text))
	return Expansion{Query: combined, Learned: text, Terms: terms}, nil
}
