package qeval

import (
	"errors"
	"math"
	"testing"
)

func TestParseModelKind(t *testing.T) {
	for name, want := range map[string]ModelKind{
		"UnrankedBoolean": UnrankedBoolean,
		"rankedboolean":   RankedBoolean,
		"bm25":            BM25,
		"INDRI":           Indri,
	} {
		got, err := ParseModelKind(name)
		if err != nil || got != want {
			t.Errorf("ParseModelKind(%q) = %v, %v, want %v", name, got, err, want)
		}
	}
	if _, err := ParseModelKind("tfidf"); !errors.Is(err, ErrUnsupportedModel) {
		t.Errorf("ParseModelKind(tfidf) error = %v", err)
	}
}

func TestModel_Supports(t *testing.T) {
	tests := []struct {
		kind ModelKind
		ok   []Operator
		bad  []Operator
	}{
		{UnrankedBoolean, []Operator{OpScore, OpAnd, OpOr}, []Operator{OpSum, OpWAnd, OpWSum}},
		{RankedBoolean, []Operator{OpScore, OpAnd, OpOr}, []Operator{OpSum, OpWAnd, OpWSum}},
		{BM25, []Operator{OpScore, OpSum}, []Operator{OpAnd, OpOr, OpWAnd, OpWSum}},
		{Indri, []Operator{OpScore, OpAnd, OpWAnd, OpWSum}, []Operator{OpOr, OpSum}},
	}
	inverted := []Operator{OpTerm, OpSyn, OpNear, OpWindow}
	for _, tt := range tests {
		m := NewModel(tt.kind)
		for _, op := range append(tt.ok, inverted...) {
			if !m.Supports(op) {
				t.Errorf("%s should support %s", tt.kind, op)
			}
		}
		for _, op := range tt.bad {
			if m.Supports(op) {
				t.Errorf("%s should not support %s", tt.kind, op)
			}
		}
	}
}

func TestModel_DefaultOperator(t *testing.T) {
	if op := NewModel(BM25).DefaultOperator(); op != OpSum {
		t.Errorf("BM25 default = %s, want #sum", op)
	}
	for _, k := range []ModelKind{UnrankedBoolean, RankedBoolean, Indri} {
		if op := NewModel(k).DefaultOperator(); op != OpAnd {
			t.Errorf("%s default = %s, want #and", k, op)
		}
	}
}

func TestModel_Validate(t *testing.T) {
	good := NewModel(Indri)
	if err := good.Validate(); err != nil {
		t.Errorf("default Indri invalid: %v", err)
	}
	bad := []Model{
		{Kind: BM25, BM25: BM25Params{K1: -1, B: 0.75}},
		{Kind: BM25, BM25: BM25Params{K1: 1.2, B: 1.5}},
		{Kind: Indri, Indri: IndriParams{Mu: 2500, Lambda: 1.1}},
		{Kind: Indri, Indri: IndriParams{Mu: -1, Lambda: 0.4}},
		{Kind: ModelKind(42)},
	}
	for _, m := range bad {
		if err := m.Validate(); err == nil {
			t.Errorf("%s accepted", m)
		}
	}
}

func TestModel_String(t *testing.T) {
	if got := NewModel(BM25).String(); got != "BM25(k1=1.2,b=0.75,k3=0)" {
		t.Errorf("String() = %s", got)
	}
	if got := NewModel(RankedBoolean).String(); got != "RankedBoolean" {
		t.Errorf("String() = %s", got)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// FORMULA TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestBM25Idf_NeverNegative(t *testing.T) {
	for df := 0; df <= 100; df++ {
		if idf := BM25Idf(100, df); idf < 0 {
			t.Fatalf("BM25Idf(100, %d) = %g", df, idf)
		}
	}
	if got, want := BM25Idf(100, 1), math.Log(99.5/1.5); !almostEqual(got, want) {
		t.Errorf("BM25Idf(100, 1) = %g, want %g", got, want)
	}
}

func TestBM25TermWeight(t *testing.T) {
	p := DefaultBM25Params()
	if got := BM25TermWeight(p, 0, 10, 10); got != 0 {
		t.Errorf("tf=0 weight = %g", got)
	}
	// Average length: the normalizer is 1, so tf/(tf+k1).
	if got, want := BM25TermWeight(p, 3, 10, 10), 3/(3+1.2); !almostEqual(got, want) {
		t.Errorf("weight = %g, want %g", got, want)
	}
	p.B = 0
	if BM25TermWeight(p, 3, 1, 10) != BM25TermWeight(p, 3, 100, 10) {
		t.Error("b=0 still normalizes by length")
	}
}

func TestBM25UserWeight(t *testing.T) {
	p := DefaultBM25Params()
	if got := BM25UserWeight(p, 1); got != 1 {
		t.Errorf("k3=0 qtf=1 = %g, want 1", got)
	}
	p.K3 = 7
	if got, want := BM25UserWeight(p, 2), 8*2/9.0; !almostEqual(got, want) {
		t.Errorf("k3=7 qtf=2 = %g, want %g", got, want)
	}
}

func TestIndriScore(t *testing.T) {
	p := IndriParams{Mu: 10, Lambda: 0.5}
	// mle = 2/100
	want := 0.5*(3+10*0.02)/(20+10) + 0.5*0.02
	if got := IndriScore(p, 3, 2, 20, 100); !almostEqual(got, want) {
		t.Errorf("IndriScore = %g, want %g", got, want)
	}
	if got := IndriDefaultScore(p, 2, 20, 100); !almostEqual(got, IndriScore(p, 0, 2, 20, 100)) {
		t.Errorf("IndriDefaultScore = %g", got)
	}
	if got := IndriDefaultScore(p, 0, 20, 100); got <= 0 {
		t.Errorf("unseen term default score = %g, want > 0", got)
	}
}
