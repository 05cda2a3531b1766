package qeval

import (
	"fmt"
	"strings"
	"unicode"

	snowballeng "github.com/kljensen/snowball/english"
	porterstemmer "github.com/reiver/go-porterstemmer"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TEXT ANALYSIS PIPELINE
// ═══════════════════════════════════════════════════════════════════════════════
// Documents and query terms go through the same chain, so a query term finds
// the stems that were indexed:
//
//	"The Running Dogs!" → tokenize → lowercase → stopwords → length → stem
//	                    → ["run", "dog"]
//
// Stemming is pluggable: snowball (default), the classic Porter stemmer, or
// none.
// ═══════════════════════════════════════════════════════════════════════════════

// Stemmer names accepted by AnalyzerConfig.
const (
	StemmerSnowball = "snowball"
	StemmerPorter   = "porter"
	StemmerNone     = "none"
)

// AnalyzerConfig controls the analysis chain.
type AnalyzerConfig struct {
	MinTokenLength  int    // shorter tokens are dropped
	Stemmer         string // snowball, porter or none
	EnableStopwords bool
}

// DefaultAnalyzerConfig returns the configuration used by the CLI unless
// overridden.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		MinTokenLength:  1,
		Stemmer:         StemmerSnowball,
		EnableStopwords: true,
	}
}

// Analyzer turns text into index terms.
type Analyzer struct {
	config AnalyzerConfig
	stem   func(string) string
}

// NewAnalyzer validates config and builds the chain.
func NewAnalyzer(config AnalyzerConfig) (*Analyzer, error) {
	a := &Analyzer{config: config}
	switch strings.ToLower(config.Stemmer) {
	case "", StemmerSnowball:
		a.stem = func(s string) string { return snowballeng.Stem(s, false) }
	case StemmerPorter:
		a.stem = porterstemmer.StemString
	case StemmerNone:
		a.stem = nil
	default:
		return nil, fmt.Errorf("unknown stemmer %q", config.Stemmer)
	}
	return a, nil
}

// Analyze returns the terms of text in order. Positions of the returned
// terms are their slice indexes.
func (a *Analyzer) Analyze(text string) []string {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := tokens[:0]
	for _, token := range tokens {
		token = strings.ToLower(token)
		if a.config.EnableStopwords && isStopword(token) {
			continue
		}
		if len(token) < a.config.MinTokenLength {
			continue
		}
		if a.stem != nil {
			token = a.stem(token)
		}
		out = append(out, token)
	}
	return out
}

func isStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

var stopwords = func() map[string]struct{} {
	words := strings.Fields(`
		a about above after again against all am an and any are as at
		be because been before being below between both but by
		can could did do does doing down during each few for from further
		had has have having he her here hers herself him himself his how
		i if in into is it its itself just me more most my myself
		no nor not now of off on once only or other our ours ourselves out over own
		same she should so some such than that the their theirs them themselves then
		there these they this those through to too under until up very
		was we were what when where which while who whom why will with would
		you your yours yourself yourselves`)
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
