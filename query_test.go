package qeval

import (
	"errors"
	"reflect"
	"testing"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PARSER TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestParser_Parse_Trees(t *testing.T) {
	p := NewParser(nil)
	tests := []struct {
		name  string
		query string
		model ModelKind
		want  string
	}{
		{"bare terms under Indri", "apple pie", Indri, "#and(#score(apple) #score(pie))"},
		{"bare terms under BM25", "apple pie", BM25, "#sum(#score(apple) #score(pie))"},
		{"single term", "Apple", RankedBoolean, "#score(apple)"},
		{"near is scored", "#near/2(new york) city", Indri, "#and(#score(#near/2(new york)) #score(city))"},
		{"weighted with field", "#wand(0.7 apple 0.3 pie.title)", Indri, "#wand(0.7 #score(apple) 0.3 #score(pie.title))"},
		{"explicit or", "#or(a #and(b c))", UnrankedBoolean, "#or(#score(a) #and(#score(b) #score(c)))"},
		{"syn inside window", "#window/4(#syn(car auto) rental)", BM25, "#score(#window/4(#syn(car auto) rental))"},
		{"explicit score", "#score(dog)", Indri, "#score(dog)"},
		{"case insensitive operators", "#AND(a b)", Indri, "#and(#score(a) #score(b))"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, err := p.Parse(tt.query, NewModel(tt.model))
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.query, err)
			}
			if got := root.String(); got != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.query, got, tt.want)
			}
		})
	}
}

func TestParser_Parse_Errors(t *testing.T) {
	p := NewParser(nil)
	tests := []struct {
		name  string
		query string
		cause error
	}{
		{"empty", "   ", nil},
		{"missing paren", "#and(a b", nil},
		{"unbalanced paren", "a b)", nil},
		{"unknown operator", "#foo(a)", ErrUnknownOperator},
		{"near without distance", "#near(a b)", nil},
		{"distance on and", "#and/3(a b)", nil},
		{"bad weight", "#wand(x a)", ErrInvalidWeights},
		{"dangling weight", "#wsum(0.5 a 0.5)", ErrInvalidWeights},
		{"zero weights", "#wand(0 a 0 b)", ErrInvalidWeights},
		{"nan weight", "#wand(NaN a 1 b)", ErrInvalidWeights},
		{"infinite weight", "#wsum(Inf a 1 b)", ErrInvalidWeights},
		{"negative infinite weight", "#wsum(1 a -Inf b)", ErrInvalidWeights},
		{"unknown field", "apple.abstract", ErrUnknownField},
		{"score op under near", "#near/2(#and(a) b)", nil},
		{"mixed fields", "#near/2(a b.title)", nil},
		{"score with two args", "#score(a b)", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(tt.query, NewModel(Indri))
			if !errors.Is(err, ErrSyntax) {
				t.Fatalf("Parse(%q) error = %v, want ErrSyntax", tt.query, err)
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Errorf("Parse(%q) error = %v, want cause %v", tt.query, err, tt.cause)
			}
			var se *SyntaxError
			if !errors.As(err, &se) || se.Query != tt.query {
				t.Errorf("error %v does not carry the query", err)
			}
		})
	}
}

func TestParser_Parse_DropsStopwords(t *testing.T) {
	a, err := NewAnalyzer(DefaultAnalyzerConfig())
	if err != nil {
		t.Fatal(err)
	}
	p := NewParser(a)
	m := NewModel(Indri)

	root, err := p.Parse("the dogs", m)
	if err != nil {
		t.Fatal(err)
	}
	if got := root.String(); got != "#score(dog)" {
		t.Errorf("Parse(the dogs) = %s", got)
	}

	root, err = p.Parse("#wand(0.3 the 0.7 dogs)", m)
	if err != nil {
		t.Fatal(err)
	}
	if got := root.String(); got != "#wand(0.7 #score(dog))" {
		t.Errorf("weighted stopword not dropped with its weight: %s", got)
	}

	root, err = p.Parse("the of #and(and)", m)
	if err != nil || root != nil {
		t.Errorf("all-stopword query = %v, %v, want nil tree", root, err)
	}
}

func TestParser_Terms(t *testing.T) {
	a, _ := NewAnalyzer(DefaultAnalyzerConfig())
	p := NewParser(a)
	got := p.Terms("#wand(0.3 Running 0.7 dogs.title) the #near/2(a cats)")
	want := []string{"run", "dog", "cat"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Terms = %v, want %v", got, want)
	}
}

func TestParseOperator(t *testing.T) {
	if op, ok := ParseOperator("#WSUM"); !ok || op != OpWSum {
		t.Errorf("ParseOperator(#WSUM) = %v, %v", op, ok)
	}
	if _, ok := ParseOperator("term"); ok {
		t.Error("term parsed as a query operator")
	}
	if _, ok := ParseOperator("#phrase"); ok {
		t.Error("#phrase parsed as a query operator")
	}
}
