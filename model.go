package qeval

import (
	"fmt"
	"math"
	"strings"
)

// ModelKind is the closed set of retrieval models.
type ModelKind int

const (
	UnrankedBoolean ModelKind = iota
	RankedBoolean
	BM25
	Indri
)

var modelNames = map[ModelKind]string{
	UnrankedBoolean: "UnrankedBoolean",
	RankedBoolean:   "RankedBoolean",
	BM25:            "BM25",
	Indri:           "Indri",
}

func (k ModelKind) String() string {
	if name, ok := modelNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ModelKind(%d)", int(k))
}

// ParseModelKind resolves a model name case-insensitively.
func ParseModelKind(name string) (ModelKind, error) {
	for kind, n := range modelNames {
		if strings.EqualFold(n, name) {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown retrieval model %q", ErrUnsupportedModel, name)
}

// BM25Params controls the BM25 term weight.
//
//	K1: term frequency saturation (typical 1.2)
//	B:  length normalization, 0 disables it (typical 0.75)
//	K3: query term frequency saturation (typical 0)
type BM25Params struct {
	K1 float64
	B  float64
	K3 float64
}

// DefaultBM25Params returns the usual BM25 settings.
func DefaultBM25Params() BM25Params {
	return BM25Params{K1: 1.2, B: 0.75, K3: 0}
}

// IndriParams controls Dirichlet smoothing with linear interpolation.
type IndriParams struct {
	Mu     float64
	Lambda float64
}

// DefaultIndriParams returns the usual Indri settings.
func DefaultIndriParams() IndriParams {
	return IndriParams{Mu: 2500, Lambda: 0.4}
}

// Model is an immutable retrieval model value. It is passed by value to
// every evaluation call; nothing in the engine keeps global parameters.
type Model struct {
	Kind  ModelKind
	BM25  BM25Params
	Indri IndriParams
}

// NewModel returns a model of kind with default parameters.
func NewModel(kind ModelKind) Model {
	return Model{Kind: kind, BM25: DefaultBM25Params(), Indri: DefaultIndriParams()}
}

// Validate checks the parameter ranges of the selected model.
func (m Model) Validate() error {
	switch m.Kind {
	case UnrankedBoolean, RankedBoolean:
		return nil
	case BM25:
		if m.BM25.K1 < 0 || m.BM25.B < 0 || m.BM25.B > 1 || m.BM25.K3 < 0 {
			return fmt.Errorf("invalid BM25 parameters k1=%g b=%g k3=%g", m.BM25.K1, m.BM25.B, m.BM25.K3)
		}
		return nil
	case Indri:
		if m.Indri.Mu < 0 || m.Indri.Lambda < 0 || m.Indri.Lambda > 1 {
			return fmt.Errorf("invalid Indri parameters mu=%g lambda=%g", m.Indri.Mu, m.Indri.Lambda)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedModel, m.Kind)
}

func (m Model) String() string {
	switch m.Kind {
	case BM25:
		return fmt.Sprintf("BM25(k1=%g,b=%g,k3=%g)", m.BM25.K1, m.BM25.B, m.BM25.K3)
	case Indri:
		return fmt.Sprintf("Indri(mu=%g,lambda=%g)", m.Indri.Mu, m.Indri.Lambda)
	}
	return m.Kind.String()
}

// DefaultOperator is the operator a bare query is wrapped in.
func (m Model) DefaultOperator() Operator {
	if m.Kind == BM25 {
		return OpSum
	}
	return OpAnd
}

// supported lists the score operators each model can combine. Inverted
// operators (TERM, SYN, NEAR, WINDOW) produce postings and work under every
// model.
var supported = map[ModelKind]map[Operator]bool{
	UnrankedBoolean: {OpScore: true, OpAnd: true, OpOr: true},
	RankedBoolean:   {OpScore: true, OpAnd: true, OpOr: true},
	BM25:            {OpScore: true, OpSum: true},
	Indri:           {OpScore: true, OpAnd: true, OpWAnd: true, OpWSum: true},
}

// Supports reports whether the model has a scoring policy for op.
func (m Model) Supports(op Operator) bool {
	if op.IsInverted() {
		return true
	}
	return supported[m.Kind][op]
}

// ═══════════════════════════════════════════════════════════════════════════════
// SCORING FORMULAS
// ═══════════════════════════════════════════════════════════════════════════════
// Shared by the operator tree and the learning-to-rank feature extractor so
// both produce identical numbers for identical statistics.
// ═══════════════════════════════════════════════════════════════════════════════

// BM25Idf is the RSJ weight clamped at zero:
//
//	idf = max(0, ln((N - df + 0.5) / (df + 0.5)))
func BM25Idf(numDocs, df int) float64 {
	n := float64(numDocs)
	d := float64(df)
	return math.Max(0, math.Log((n-d+0.5)/(d+0.5)))
}

// BM25TermWeight is the length-normalized term frequency component.
func BM25TermWeight(p BM25Params, tf, docLen, avgLen float64) float64 {
	if tf == 0 {
		return 0
	}
	norm := 1 - p.B
	if avgLen > 0 {
		norm += p.B * (docLen / avgLen)
	}
	return tf / (tf + p.K1*norm)
}

// BM25UserWeight is the query term frequency component.
func BM25UserWeight(p BM25Params, qtf float64) float64 {
	return (p.K3 + 1) * qtf / (p.K3 + qtf)
}

// BM25Score combines the three BM25 components for one term with qtf = 1.
func BM25Score(p BM25Params, numDocs, df int, tf, docLen, avgLen float64) float64 {
	return BM25Idf(numDocs, df) * BM25TermWeight(p, tf, docLen, avgLen) * BM25UserWeight(p, 1)
}

// IndriScore is the Dirichlet-smoothed, interpolated term probability:
//
//	p = ctf / sumLen
//	score = (1-λ)(tf + μp)/(len + μ) + λp
//
// Passing tf = 0 yields the background score of an unseen term.
func IndriScore(p IndriParams, tf, ctf, docLen, sumLen float64) float64 {
	var mle float64
	if sumLen > 0 {
		mle = ctf / sumLen
	}
	return (1-p.Lambda)*(tf+p.Mu*mle)/(docLen+p.Mu) + p.Lambda*mle
}

// IndriDefaultScore is the score of a term that does not occur in the
// document. A term that never occurs in the collection is counted as half
// an occurrence so it keeps a non-zero probability.
func IndriDefaultScore(p IndriParams, ctf, docLen, sumLen float64) float64 {
	if ctf == 0 {
		ctf = 0.5
	}
	return IndriScore(p, 0, ctf, docLen, sumLen)
}
