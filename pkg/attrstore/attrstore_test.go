package attrstore

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/wizenheimer/qeval"
	"github.com/wizenheimer/qeval/letor"
)

var (
	_ letor.AttributeSource = (*Store)(nil)
	_ letor.AttributeSource = Overlay{}
)

type mapSource map[string]string

func (m mapSource) Attribute(name string, _ int) (string, bool) {
	v, ok := m[name]
	return v, ok
}

func TestOverlay_Attribute(t *testing.T) {
	o := Overlay{
		Primary:  mapSource{"PageRank": "3"},
		Fallback: mapSource{"PageRank": "1", "rawUrl": "http://a/b"},
	}
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"PageRank", "3", true},
		{"rawUrl", "http://a/b", true},
		{"spamScore", "", false},
	}
	for _, tt := range tests {
		got, ok := o.Attribute(tt.name, 0)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Attribute(%q) = %q, %v, want %q, %v", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
	if _, ok := (Overlay{}).Attribute("x", 0); ok {
		t.Error("empty overlay found an attribute")
	}
}

func TestOpen_InvalidTable(t *testing.T) {
	if _, err := Open("postgres://unused", "attrs; DROP TABLE x", nil); err == nil {
		t.Error("unsafe table name accepted")
	}
}

func TestStore_Postgres(t *testing.T) {
	dsn := os.Getenv("QE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("QE_TEST_POSTGRES_DSN not set")
	}
	idx := qeval.NewMemoryIndex(nil)
	doc, err := idx.AddTokens("doc-1", map[string][]string{qeval.FieldBody: {"x"}}, map[string]string{"PageRank": "0.5"})
	if err != nil {
		t.Fatal(err)
	}

	table := fmt.Sprintf("qeval_attrs_test_%d", os.Getpid())
	s, err := Open(dsn, table, idx)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		s.db.Exec("DROP TABLE IF EXISTS " + table)
		s.Close()
	})
	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	if err := s.Put(ctx, "doc-1", "spamScore", "42"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "doc-1", "spamScore", "43"); err != nil {
		t.Fatal(err)
	}

	o := Overlay{Primary: s, Fallback: idx}
	if v, ok := o.Attribute("spamScore", doc); !ok || v != "43" {
		t.Errorf("spamScore = %q, %v", v, ok)
	}
	if v, ok := o.Attribute("PageRank", doc); !ok || v != "0.5" {
		t.Errorf("PageRank = %q, %v", v, ok)
	}
	if _, ok := s.Attribute("spamScore", 99); ok {
		t.Error("unknown document has attributes")
	}
}
