package letor

import (
	"math"
	"testing"

	"github.com/wizenheimer/qeval"
)

const epsilon = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

// newLetorIndex: a has body and title plus every attribute, b has body and
// inlink, c has only an unrelated body.
func newLetorIndex(t *testing.T) *qeval.MemoryIndex {
	t.Helper()
	idx := qeval.NewMemoryIndex(nil)
	docs := []struct {
		ext    string
		fields map[string][]string
		attrs  map[string]string
	}{
		{"a", map[string][]string{
			qeval.FieldBody:  {"apple", "pie", "apple"},
			qeval.FieldTitle: {"apple"},
		}, map[string]string{
			AttrSpamScore: "70",
			AttrRawURL:    "http://en.wikipedia.org/wiki/Apple",
			AttrPageRank:  "2.5",
		}},
		{"b", map[string][]string{
			qeval.FieldBody:   {"pie", "crust"},
			qeval.FieldInlink: {"apple"},
		}, map[string]string{
			AttrSpamScore: "10",
			AttrRawURL:    "http://x.com/a/b/c",
			AttrPageRank:  "not a number",
		}},
		{"c", map[string][]string{
			qeval.FieldBody: {"banana"},
		}, nil},
	}
	for _, d := range docs {
		if _, err := idx.AddTokens(d.ext, d.fields, d.attrs); err != nil {
			t.Fatal(err)
		}
	}
	return idx
}

func newExtractor(idx qeval.Index, enabled FeatureSet) *Extractor {
	return NewExtractor(idx, nil, qeval.DefaultBM25Params(), qeval.DefaultIndriParams(), enabled)
}

// ═══════════════════════════════════════════════════════════════════════════════
// STATIC FEATURES
// ═══════════════════════════════════════════════════════════════════════════════

func TestExtractor_Extract_Attributes(t *testing.T) {
	idx := newLetorIndex(t)
	e := newExtractor(idx, AllFeatures())

	a := e.Extract(0, []string{"apple"})
	checks := []struct {
		f    Feature
		want float64
	}{
		{FeatureSpamScore, 70},
		{FeatureURLDepth, 4},
		{FeatureFromWikipedia, 1},
		{FeaturePageRank, 2.5},
		{FeatureBodyLength, 3},
		{FeatureTitleLength, 1},
	}
	for _, c := range checks {
		if got := a.Get(c.f); got != c.want {
			t.Errorf("a: feature %d = %g, want %g", c.f, got, c.want)
		}
	}

	b := e.Extract(1, []string{"apple"})
	if b.Get(FeatureFromWikipedia) != 0 || b.Get(FeatureURLDepth) != 5 {
		t.Errorf("b: wikipedia %g depth %g", b.Get(FeatureFromWikipedia), b.Get(FeatureURLDepth))
	}
	if b.Get(FeaturePageRank) != 0 {
		t.Errorf("malformed PageRank = %g, want 0", b.Get(FeaturePageRank))
	}

	c := e.Extract(2, []string{"apple"})
	if c.Get(FeatureSpamScore) != 0 || c.Get(FeatureURLDepth) != 0 || c.Get(FeatureTitleLength) != 0 {
		t.Errorf("missing attributes = %v, want zeros", c)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// FIELD FEATURES
// ═══════════════════════════════════════════════════════════════════════════════

func TestExtractor_Extract_BodyScores(t *testing.T) {
	idx := newLetorIndex(t)
	e := newExtractor(idx, AllFeatures())
	terms := []string{"apple", "pie"}
	v := e.Extract(0, terms)

	bm25 := qeval.DefaultBM25Params()
	// Body lengths 3, 2, 1: average 2. apple is in one document, pie in two.
	wantBM25 := qeval.BM25Score(bm25, 3, 1, 2, 3, 2) + qeval.BM25Score(bm25, 3, 2, 1, 3, 2)
	if got := v.Get(FeatureBM25Body); !almostEqual(got, wantBM25) || got <= 0 {
		t.Errorf("bm25 body = %g, want %g", got, wantBM25)
	}

	indri := qeval.DefaultIndriParams()
	wantIndri := math.Sqrt(qeval.IndriScore(indri, 2, 2, 3, 6) * qeval.IndriScore(indri, 1, 2, 3, 6))
	if got := v.Get(FeatureIndriBody); !almostEqual(got, wantIndri) {
		t.Errorf("indri body = %g, want %g", got, wantIndri)
	}
	if got := v.Get(FeatureOverlapBody); got != 1 {
		t.Errorf("overlap body = %g, want 1", got)
	}
}

func TestExtractor_Extract_PartialMatchUsesDefaultScore(t *testing.T) {
	idx := newLetorIndex(t)
	e := newExtractor(idx, AllFeatures())
	v := e.Extract(0, []string{"apple", "pie"})

	indri := qeval.DefaultIndriParams()
	// The title holds only apple; pie never occurs in any title.
	want := math.Sqrt(qeval.IndriScore(indri, 1, 1, 1, 1) * qeval.IndriDefaultScore(indri, 0, 1, 1))
	if got := v.Get(FeatureIndriTitle); !almostEqual(got, want) {
		t.Errorf("indri title = %g, want %g", got, want)
	}
	if got := v.Get(FeatureOverlapTitle); got != 0.5 {
		t.Errorf("overlap title = %g, want 0.5", got)
	}
}

func TestExtractor_Extract_NoMatchOrAbsentField(t *testing.T) {
	idx := newLetorIndex(t)
	e := newExtractor(idx, AllFeatures())

	c := e.Extract(2, []string{"apple", "pie"})
	for _, f := range []Feature{FeatureBM25Body, FeatureIndriBody, FeatureOverlapBody} {
		if got := c.Get(f); got != 0 {
			t.Errorf("c: feature %d = %g, want 0 without matching terms", f, got)
		}
	}

	a := e.Extract(0, []string{"apple"})
	for _, f := range []Feature{FeatureBM25URL, FeatureIndriURL, FeatureOverlapURL, FeatureIndriInlink} {
		if got := a.Get(f); got != 0 {
			t.Errorf("a: feature %d = %g, want 0 for an absent field", f, got)
		}
	}

	b := e.Extract(1, []string{"apple"})
	if b.Get(FeatureOverlapInlink) != 1 || b.Get(FeatureIndriInlink) <= 0 {
		t.Errorf("b inlink overlap %g indri %g", b.Get(FeatureOverlapInlink), b.Get(FeatureIndriInlink))
	}
}

func TestExtractor_Extract_Disabled(t *testing.T) {
	idx := newLetorIndex(t)
	enabled, err := ParseFeatureDisable("1, 5,17")
	if err != nil {
		t.Fatal(err)
	}
	v := newExtractor(idx, enabled).Extract(0, []string{"apple"})
	for _, f := range []Feature{FeatureSpamScore, FeatureBM25Body, FeatureBodyLength} {
		if v.Get(f) != 0 {
			t.Errorf("disabled feature %d = %g", f, v.Get(f))
		}
	}
	if v.Get(FeatureIndriBody) == 0 {
		t.Error("enabled feature in a partly disabled field was skipped")
	}
}

// staticAttrs overrides the attributes stored in the index.
type staticAttrs map[string]string

func (s staticAttrs) Attribute(name string, _ int) (string, bool) {
	v, ok := s[name]
	return v, ok
}

func TestExtractor_Extract_AttributeSource(t *testing.T) {
	idx := newLetorIndex(t)
	e := NewExtractor(idx, staticAttrs{AttrSpamScore: "99"}, qeval.DefaultBM25Params(), qeval.DefaultIndriParams(), AllFeatures())
	v := e.Extract(0, nil)
	if v.Get(FeatureSpamScore) != 99 || v.Get(FeaturePageRank) != 0 {
		t.Errorf("spam %g pagerank %g", v.Get(FeatureSpamScore), v.Get(FeaturePageRank))
	}
}

func TestParseFeatureDisable(t *testing.T) {
	s, err := ParseFeatureDisable("")
	if err != nil || s != AllFeatures() {
		t.Errorf("empty list = %v, %v", s, err)
	}
	for _, bad := range []string{"0", "19", "x", "3,,abc"} {
		if _, err := ParseFeatureDisable(bad); err == nil {
			t.Errorf("ParseFeatureDisable(%q) accepted", bad)
		}
	}
	if s.Enabled(0) || s.Enabled(NumFeatures+1) {
		t.Error("out of range feature reported enabled")
	}
}
