package qeval

import (
	"reflect"
	"testing"
)

func TestAnalyzer_Analyze(t *testing.T) {
	tests := []struct {
		name   string
		config AnalyzerConfig
		text   string
		want   []string
	}{
		{"snowball with stopwords", DefaultAnalyzerConfig(), "The Running Dogs!", []string{"run", "dog"}},
		{"porter", AnalyzerConfig{Stemmer: StemmerPorter, EnableStopwords: true}, "connected ponies", []string{"connect", "poni"}},
		{"no stemming", AnalyzerConfig{Stemmer: StemmerNone}, "The Dogs", []string{"the", "dogs"}},
		{"min length", AnalyzerConfig{Stemmer: StemmerNone, MinTokenLength: 3}, "go to the zoo", []string{"the", "zoo"}},
		{"punctuation splits", AnalyzerConfig{Stemmer: StemmerNone}, "u.s.-based, co-op", []string{"u", "s", "based", "co", "op"}},
		{"empty", DefaultAnalyzerConfig(), "   ", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAnalyzer(tt.config)
			if err != nil {
				t.Fatal(err)
			}
			got := a.Analyze(tt.text)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Analyze(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestNewAnalyzer_UnknownStemmer(t *testing.T) {
	if _, err := NewAnalyzer(AnalyzerConfig{Stemmer: "krovetz"}); err == nil {
		t.Error("unknown stemmer accepted")
	}
}
