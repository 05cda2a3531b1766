package letor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/wizenheimer/qeval"
)

// Trainer learns a ranking model from a feature file.
type Trainer interface {
	Train(ctx context.Context, featureFile, modelFile string, c float64) error
}

// Classifier scores a feature file with a learned model, writing one score
// per vector to scoreFile.
type Classifier interface {
	Classify(ctx context.Context, featureFile, modelFile, scoreFile string) error
}

// Ranker is an external pairwise learning-to-rank tool.
type Ranker interface {
	Trainer
	Classifier
}

// Observer receives ranker measurements. Op is "train" or "classify".
type Observer interface {
	RankerRun(op string, elapsed time.Duration, err error)
}

// Files names the files exchanged with the ranker.
type Files struct {
	TrainingFeatures string
	Model            string
	TestingFeatures  string
	TestingScores    string
}

// Pipeline trains a reranker on judged queries and reranks an initial
// ranking of test queries with it.
type Pipeline struct {
	Index     qeval.Index
	Parser    *qeval.Parser
	Extractor *Extractor
	Ranker    Ranker
	Files     Files
	C         float64

	Observer Observer
	Logger   *slog.Logger
}

// Ranked is the reranked result of one query.
type Ranked struct {
	QueryID string
	Results *qeval.ScoreList
}

// Vectorize extracts and normalizes the features of docs for one query.
// labels supplies the label of each document and must be as long as docs.
func (p *Pipeline) Vectorize(qid string, terms []string, docs []int, labels []string) ([]Vector, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	values := make([]Values, len(docs))
	for i, doc := range docs {
		values[i] = p.Extractor.Extract(doc, terms)
	}
	Normalize(values, p.Extractor.Enabled())

	vectors := make([]Vector, len(docs))
	for i, doc := range docs {
		ext, err := p.Index.ExternalID(doc)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", qid, err)
		}
		vectors[i] = Vector{Label: labels[i], QueryID: qid, ExternalID: ext, Values: values[i]}
	}
	return vectors, nil
}

// Train writes feature vectors for the judged documents of every training
// query and runs the trainer on them. A query without judgments contributes
// no vectors.
func (p *Pipeline) Train(ctx context.Context, queries []qeval.Query, qrels Qrels) error {
	var all []Vector
	for _, q := range queries {
		js := qrels[q.ID]
		docs := make([]int, len(js))
		labels := make([]string, len(js))
		for i, j := range js {
			docs[i], labels[i] = j.Doc, j.Label
		}
		vectors, err := p.Vectorize(q.ID, p.Parser.Terms(q.Text), docs, labels)
		if err != nil {
			return err
		}
		if len(vectors) == 0 {
			p.logger().Warn("training query has no judged documents", slog.String("qid", q.ID))
		}
		all = append(all, vectors...)
	}
	if err := writeVectorFile(p.Files.TrainingFeatures, all); err != nil {
		return err
	}
	p.logger().Info("training vectors written",
		slog.String("path", p.Files.TrainingFeatures), slog.Int("vectors", len(all)))

	start := time.Now()
	err := p.Ranker.Train(ctx, p.Files.TrainingFeatures, p.Files.Model, p.C)
	p.observe("train", start, err)
	if err != nil {
		return fmt.Errorf("train ranker: %w", err)
	}
	return nil
}

// Rerank scores the candidates in initial with the trained model. Every
// query gets an entry, in query order; a query without candidates gets an
// empty list. Results are sorted and cut to length (<= 0 keeps all).
func (p *Pipeline) Rerank(ctx context.Context, queries []qeval.Query, initial map[string]*qeval.ScoreList, length int) ([]Ranked, error) {
	var all []Vector
	for _, q := range queries {
		candidates := initial[q.ID]
		docs := make([]int, candidates.Len())
		labels := make([]string, candidates.Len())
		for i := range docs {
			docs[i], labels[i] = candidates.Doc(i), "0"
		}
		vectors, err := p.Vectorize(q.ID, p.Parser.Terms(q.Text), docs, labels)
		if err != nil {
			return nil, err
		}
		all = append(all, vectors...)
	}
	if err := writeVectorFile(p.Files.TestingFeatures, all); err != nil {
		return nil, err
	}

	start := time.Now()
	err := p.Ranker.Classify(ctx, p.Files.TestingFeatures, p.Files.Model, p.Files.TestingScores)
	p.observe("classify", start, err)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	return p.merge(queries, length)
}

// InitialRankings runs every query through s and keeps the top depth
// documents of each as rerank candidates.
func InitialRankings(s *qeval.Searcher, queries []qeval.Query, depth int) (map[string]*qeval.ScoreList, error) {
	rankings := make(map[string]*qeval.ScoreList, len(queries))
	for _, q := range queries {
		results, err := s.Search(q.Text, depth)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q.ID, err)
		}
		rankings[q.ID] = results
	}
	return rankings, nil
}

// merge pairs the test vectors with the ranker's scores line by line.
func (p *Pipeline) merge(queries []qeval.Query, length int) ([]Ranked, error) {
	vectors, err := readFile(p.Files.TestingFeatures, ReadVectors)
	if err != nil {
		return nil, err
	}
	scores, err := readFile(p.Files.TestingScores, ReadScores)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(vectors) {
		return nil, fmt.Errorf("%s has %d scores for %d vectors",
			p.Files.TestingScores, len(scores), len(vectors))
	}

	byQuery := make(map[string]*qeval.ScoreList)
	for i, v := range vectors {
		doc, err := p.Index.InternalID(v.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", v.QueryID, err)
		}
		list, ok := byQuery[v.QueryID]
		if !ok {
			list = qeval.NewScoreList(0)
			byQuery[v.QueryID] = list
		}
		list.Add(doc, scores[i])
	}

	ranked := make([]Ranked, 0, len(queries))
	for _, q := range queries {
		list, ok := byQuery[q.ID]
		if !ok {
			list = qeval.NewScoreList(0)
		}
		list.Sort()
		if length > 0 {
			list.Truncate(length)
		}
		ranked = append(ranked, Ranked{QueryID: q.ID, Results: list})
	}
	return ranked, nil
}

func (p *Pipeline) observe(op string, start time.Time, err error) {
	elapsed := time.Since(start)
	if p.Observer != nil {
		p.Observer.RankerRun(op, elapsed, err)
	}
	p.logger().Info("ranker finished",
		slog.String("op", op), slog.Duration("elapsed", elapsed), slog.Bool("ok", err == nil))
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func writeVectorFile(path string, vectors []Vector) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create feature file: %w", err)
	}
	if err := WriteVectors(f, vectors); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func readFile[T any](path string, read func(r io.Reader) (T, error)) (T, error) {
	f, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer f.Close()
	return read(f)
}
