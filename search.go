package qeval

import (
	"fmt"
	"log/slog"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SEARCH
// ═══════════════════════════════════════════════════════════════════════════════
// Evaluation drives the root of a tree document at a time:
//
//	Initialize → HasMatch → Match → Score → AdvancePast → HasMatch → ...
//
// and collects every (document, score) pair it sees. Documents arrive in
// increasing id order; ranking happens afterwards in the ScoreList.
// ═══════════════════════════════════════════════════════════════════════════════

// Evaluate initializes root under m and returns every document it matches,
// unsorted. A nil root yields an empty list. An inverted root is scored as
// if wrapped in #score.
func Evaluate(idx Index, root *Node, m Model) (*ScoreList, error) {
	results := NewScoreList(0)
	if root == nil {
		return results, nil
	}
	if root.Op.IsInverted() {
		root = NewScore(root)
	}
	if err := root.Initialize(idx, m); err != nil {
		return nil, err
	}
	for root.HasMatch(m) {
		doc := root.Match()
		results.Add(doc, root.Score(m))
		root.AdvancePast(doc)
	}
	return results, nil
}

// Searcher parses and evaluates query text against one index and model.
type Searcher struct {
	Index  Index
	Parser *Parser
	Model  Model
	Logger *slog.Logger
}

// NewSearcher validates m and returns a Searcher.
func NewSearcher(idx Index, parser *Parser, m Model) (*Searcher, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if parser == nil {
		parser = NewParser(nil)
	}
	return &Searcher{Index: idx, Parser: parser, Model: m, Logger: slog.Default()}, nil
}

// Search ranks the documents matching query and keeps the top n; n < 0
// keeps everything.
func (s *Searcher) Search(query string, n int) (*ScoreList, error) {
	root, err := s.Parser.Parse(query, s.Model)
	if err != nil {
		return nil, err
	}
	return s.SearchTree(root, n)
}

// SearchTree ranks the documents matched by an already built tree.
func (s *Searcher) SearchTree(root *Node, n int) (*ScoreList, error) {
	start := time.Now()
	results, err := Evaluate(s.Index, root, s.Model)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", root, err)
	}
	results.Sort()
	results.Truncate(n)

	s.logger().Debug("evaluated query",
		slog.String("query", root.String()),
		slog.String("model", s.Model.Kind.String()),
		slog.Int("results", results.Len()),
		slog.Duration("elapsed", time.Since(start)))
	return results, nil
}

func (s *Searcher) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
