// Package letor reranks an initial ranking with a learned model. Each
// (query, document) pair becomes a vector of retrieval signals, the vectors
// are normalized per query and handed to an external pairwise ranker, and the
// ranker's scores replace the original ones.
package letor

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wizenheimer/qeval"
)

// NumFeatures is the number of slots in a feature vector.
const NumFeatures = 18

// Feature numbers a slot. Slots are 1-based, as in the vector file.
type Feature int

const (
	FeatureSpamScore Feature = iota + 1
	FeatureURLDepth
	FeatureFromWikipedia
	FeaturePageRank
	FeatureBM25Body
	FeatureIndriBody
	FeatureOverlapBody
	FeatureBM25Title
	FeatureIndriTitle
	FeatureOverlapTitle
	FeatureBM25URL
	FeatureIndriURL
	FeatureOverlapURL
	FeatureBM25Inlink
	FeatureIndriInlink
	FeatureOverlapInlink
	FeatureBodyLength
	FeatureTitleLength
)

// Document attributes read by the static features.
const (
	AttrSpamScore = "spamScore"
	AttrRawURL    = "rawUrl"
	AttrPageRank  = "PageRank"
)

// fieldFeatures lists, per field, the BM25, Indri and overlap slots.
var fieldFeatures = []struct {
	field                string
	bm25, indri, overlap Feature
}{
	{qeval.FieldBody, FeatureBM25Body, FeatureIndriBody, FeatureOverlapBody},
	{qeval.FieldTitle, FeatureBM25Title, FeatureIndriTitle, FeatureOverlapTitle},
	{qeval.FieldURL, FeatureBM25URL, FeatureIndriURL, FeatureOverlapURL},
	{qeval.FieldInlink, FeatureBM25Inlink, FeatureIndriInlink, FeatureOverlapInlink},
}

// Values holds one vector; Values[f-1] is feature f.
type Values [NumFeatures]float64

// Get returns feature f.
func (v *Values) Get(f Feature) float64 {
	return v[f-1]
}

func (v *Values) set(f Feature, x float64) {
	v[f-1] = x
}

// FeatureSet records which features are enabled.
type FeatureSet [NumFeatures]bool

// AllFeatures enables every slot.
func AllFeatures() FeatureSet {
	var s FeatureSet
	for i := range s {
		s[i] = true
	}
	return s
}

// Enabled reports whether f is enabled.
func (s FeatureSet) Enabled(f Feature) bool {
	return f >= 1 && f <= NumFeatures && s[f-1]
}

// ParseFeatureDisable reads a comma separated list of feature numbers to
// disable, such as "2,5,17". An empty list enables everything.
func ParseFeatureDisable(list string) (FeatureSet, error) {
	s := AllFeatures()
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 || n > NumFeatures {
			return s, fmt.Errorf("invalid feature number %q, want 1-%d", part, NumFeatures)
		}
		s[n-1] = false
	}
	return s, nil
}

// AttributeSource supplies stored document attributes.
type AttributeSource interface {
	Attribute(name string, doc int) (string, bool)
}

// Extractor computes raw, unnormalized feature values.
type Extractor struct {
	index   qeval.Index
	attrs   AttributeSource
	bm25    qeval.BM25Params
	indri   qeval.IndriParams
	enabled FeatureSet
}

// NewExtractor returns an extractor reading statistics from idx. Attributes
// come from attrs, or from idx itself when attrs is nil.
func NewExtractor(idx qeval.Index, attrs AttributeSource, bm25 qeval.BM25Params, indri qeval.IndriParams, enabled FeatureSet) *Extractor {
	if attrs == nil {
		attrs = idx
	}
	return &Extractor{index: idx, attrs: attrs, bm25: bm25, indri: indri, enabled: enabled}
}

// Enabled returns the enabled feature set.
func (e *Extractor) Enabled() FeatureSet {
	return e.enabled
}

// Extract computes the features of doc for the analyzed query terms.
// Disabled slots are left at 0. A missing or malformed attribute yields 0.
func (e *Extractor) Extract(doc int, terms []string) Values {
	var v Values

	if e.enabled.Enabled(FeatureSpamScore) {
		v.set(FeatureSpamScore, e.numericAttr(AttrSpamScore, doc))
	}
	if e.enabled.Enabled(FeatureURLDepth) || e.enabled.Enabled(FeatureFromWikipedia) {
		url, _ := e.attrs.Attribute(AttrRawURL, doc)
		if e.enabled.Enabled(FeatureURLDepth) {
			v.set(FeatureURLDepth, float64(strings.Count(url, "/")))
		}
		if e.enabled.Enabled(FeatureFromWikipedia) && strings.Contains(url, "wikipedia.org") {
			v.set(FeatureFromWikipedia, 1)
		}
	}
	if e.enabled.Enabled(FeaturePageRank) {
		v.set(FeaturePageRank, e.numericAttr(AttrPageRank, doc))
	}

	for _, ff := range fieldFeatures {
		if !e.enabled.Enabled(ff.bm25) && !e.enabled.Enabled(ff.indri) && !e.enabled.Enabled(ff.overlap) {
			continue
		}
		tv, ok := e.index.TermVector(ff.field, doc)
		if !ok || tv.Len() == 0 {
			// Absent field: BM25 and overlap are 0, and so is Indri since
			// no term can match.
			continue
		}
		if e.enabled.Enabled(ff.bm25) {
			v.set(ff.bm25, e.bm25Score(tv, terms))
		}
		if e.enabled.Enabled(ff.indri) {
			v.set(ff.indri, e.indriScore(tv, terms))
		}
		if e.enabled.Enabled(ff.overlap) {
			v.set(ff.overlap, overlap(tv, terms))
		}
	}

	if e.enabled.Enabled(FeatureBodyLength) {
		v.set(FeatureBodyLength, float64(e.index.FieldLength(qeval.FieldBody, doc)))
	}
	if e.enabled.Enabled(FeatureTitleLength) {
		v.set(FeatureTitleLength, float64(e.index.FieldLength(qeval.FieldTitle, doc)))
	}
	return v
}

func (e *Extractor) numericAttr(name string, doc int) float64 {
	s, ok := e.attrs.Attribute(name, doc)
	if !ok {
		return 0
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return x
}

// bm25Score sums the BM25 weight of every query term present in the field.
// It uses the same idf as #score under BM25.
func (e *Extractor) bm25Score(tv *qeval.TermVector, terms []string) float64 {
	numDocs := e.index.NumDocs()
	var avgLen float64
	if n := e.index.DocCount(tv.Field); n > 0 {
		avgLen = float64(e.index.SumFieldLengths(tv.Field)) / float64(n)
	}

	var score float64
	for _, term := range terms {
		i := tv.IndexOf(term)
		if i < 0 {
			continue
		}
		st := tv.Stem(i)
		score += qeval.BM25Score(e.bm25, numDocs, st.DocFreq,
			float64(st.Freq), float64(tv.Length), avgLen)
	}
	return score
}

// indriScore is the geometric mean of the smoothed term probabilities, or 0
// when no query term occurs in the field.
func (e *Extractor) indriScore(tv *qeval.TermVector, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	sumLen := float64(e.index.SumFieldLengths(tv.Field))
	docLen := float64(tv.Length)

	score, matched := 1.0, false
	for _, term := range terms {
		ctf := float64(e.index.TotalTermFreq(tv.Field, term))
		if tf := tv.Freq(term); tf > 0 {
			matched = true
			score *= qeval.IndriScore(e.indri, float64(tf), ctf, docLen, sumLen)
		} else {
			score *= qeval.IndriDefaultScore(e.indri, ctf, docLen, sumLen)
		}
	}
	if !matched {
		return 0
	}
	return math.Pow(score, 1/float64(len(terms)))
}

// overlap is the fraction of query terms present in the field.
func overlap(tv *qeval.TermVector, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	n := 0
	for _, term := range terms {
		if tv.IndexOf(term) >= 0 {
			n++
		}
	}
	return float64(n) / float64(len(terms))
}
