package qeval

import (
	"reflect"
	"testing"
)

func TestScoreList_Sort(t *testing.T) {
	l := NewScoreList(4)
	l.Add(7, 0.5)
	l.Add(3, 2)
	l.Add(1, 0.5)
	l.Add(5, 2)

	l.Sort()
	want := []ScoredDoc{{3, 2}, {5, 2}, {1, 0.5}, {7, 0.5}}
	if !reflect.DeepEqual(l.Entries(), want) {
		t.Fatalf("Sort() = %v, want %v", l.Entries(), want)
	}

	l.Sort()
	if !reflect.DeepEqual(l.Entries(), want) {
		t.Errorf("second Sort() changed the order: %v", l.Entries())
	}
}

func TestScoreList_Truncate(t *testing.T) {
	entries := []ScoredDoc{{1, 3}, {2, 2}, {3, 1}}
	tests := []struct {
		n    int
		want int
	}{
		{-1, 3},
		{0, 0},
		{2, 2},
		{10, 3},
	}
	for _, tt := range tests {
		l := ScoreListFrom(append([]ScoredDoc(nil), entries...))
		l.Truncate(tt.n)
		if l.Len() != tt.want {
			t.Errorf("Truncate(%d) kept %d, want %d", tt.n, l.Len(), tt.want)
		}
	}
}

func TestScoreList_Accessors(t *testing.T) {
	l := ScoreListFrom([]ScoredDoc{{Doc: 4, Score: 1.5}})
	if l.Len() != 1 || l.Doc(0) != 4 || l.Score(0) != 1.5 {
		t.Errorf("accessors = %d %d %g", l.Len(), l.Doc(0), l.Score(0))
	}
	if NewScoreList(0).Len() != 0 {
		t.Error("new list not empty")
	}
}
