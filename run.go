package qeval

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// ResultCache memoizes ranked results by key. compute runs only on a miss;
// hit reports whether the value came from the cache.
type ResultCache interface {
	GetOrCompute(ctx context.Context, key string, compute func() ([]ScoredDoc, error)) (results []ScoredDoc, hit bool, err error)
}

// Recorder receives evaluation measurements.
type Recorder interface {
	QueryEvaluated(model string, results int, elapsed time.Duration)
	ExpansionTerms(n int)
}

// Runner evaluates a batch of queries: parse, rank, optionally expand and
// re-rank, then write. Queries run one after another; each gets its own
// operator trees.
type Runner struct {
	Searcher *Searcher
	Length   int // results kept per query, <= 0 keeps all

	// Expander enables pseudo-relevance feedback when set.
	Expander *Expander
	// InitialRanking, when set, replaces the first retrieval pass of
	// feedback. Keys are query ids.
	InitialRanking map[string]*ScoreList
	// ExpansionLog receives "qid: learnedQuery" lines.
	ExpansionLog io.Writer

	Cache ResultCache
	// CacheScope names what the cached results depend on besides the
	// query and the run settings: the index contents and the analyzer.
	CacheScope string

	Recorder Recorder
	Logger   *slog.Logger
}

// Run evaluates queries in order and writes their results. Cancellation is
// checked between queries.
func (r *Runner) Run(ctx context.Context, queries []Query, out *ResultWriter) error {
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return err
		}
		results, err := r.RunQuery(ctx, q)
		if err != nil {
			return fmt.Errorf("query %s: %w", q.ID, err)
		}
		if err := out.Write(q.ID, results); err != nil {
			return fmt.Errorf("write results for query %s: %w", q.ID, err)
		}
	}
	return out.Flush()
}

// RunQuery returns the sorted, truncated results of one query.
func (r *Runner) RunQuery(ctx context.Context, q Query) (*ScoreList, error) {
	start := time.Now()
	compute := func() ([]ScoredDoc, error) {
		results, err := r.evaluate(q)
		if err != nil {
			return nil, err
		}
		return results.Entries(), nil
	}

	var (
		entries []ScoredDoc
		hit     bool
		err     error
	)
	// An initial ranking and the expansion log are per-run inputs and
	// outputs the key cannot capture.
	if r.Cache != nil && r.ExpansionLog == nil && r.InitialRanking == nil {
		entries, hit, err = r.Cache.GetOrCompute(ctx, r.cacheKey(q), compute)
	} else {
		entries, err = compute()
	}
	if err != nil {
		return nil, err
	}
	results := ScoreListFrom(entries)

	elapsed := time.Since(start)
	if r.Recorder != nil {
		r.Recorder.QueryEvaluated(r.Searcher.Model.Kind.String(), results.Len(), elapsed)
	}
	r.logger().Info("query evaluated",
		slog.String("qid", q.ID),
		slog.Int("results", results.Len()),
		slog.Bool("cached", hit),
		slog.Duration("elapsed", elapsed))
	return results, nil
}

func (r *Runner) evaluate(q Query) (*ScoreList, error) {
	s := r.Searcher
	root, err := s.Parser.Parse(q.Text, s.Model)
	if err != nil {
		return nil, err
	}
	if r.Expander == nil || !r.Expander.Enabled() || root == nil {
		return s.SearchTree(root, r.Length)
	}

	initial, ok := r.InitialRanking[q.ID]
	switch {
	case r.InitialRanking != nil && !ok:
		initial = NewScoreList(0)
	case r.InitialRanking == nil:
		if initial, err = s.SearchTree(root, -1); err != nil {
			return nil, err
		}
		// The first pass consumed the tree's cursors.
		if root, err = s.Parser.Parse(q.Text, s.Model); err != nil {
			return nil, err
		}
	}

	exp, err := r.Expander.Expand(root, initial)
	if err != nil {
		return nil, err
	}
	if r.Recorder != nil {
		r.Recorder.ExpansionTerms(len(exp.Terms))
	}
	if r.ExpansionLog != nil && exp.Learned != "" {
		if _, err := fmt.Fprintf(r.ExpansionLog, "%s: %s\n", q.ID, exp.Learned); err != nil {
			return nil, fmt.Errorf("write expansion query: %w", err)
		}
	}
	return s.SearchTree(exp.Query, r.Length)
}

func (r *Runner) cacheKey(q Query) string {
	parts := []string{r.CacheScope, r.Searcher.Model.String(), strconv.Itoa(r.Length), q.Text}
	if r.Expander != nil {
		parts = append(parts, fmt.Sprintf("fb%+v", r.Expander.Params()))
	}
	return strings.Join(parts, "\x00")
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
