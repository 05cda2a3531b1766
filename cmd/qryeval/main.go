// Command qryeval evaluates a file of structured queries against an index
// snapshot and writes a trec_eval ranking. With model.algorithm set to
// "letor" it trains an svm_rank model on judged queries and reranks a BM25
// ranking with it instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wizenheimer/qeval"
	"github.com/wizenheimer/qeval/letor"
	"github.com/wizenheimer/qeval/letor/svmrank"
	"github.com/wizenheimer/qeval/pkg/attrstore"
	"github.com/wizenheimer/qeval/pkg/cache"
	"github.com/wizenheimer/qeval/pkg/config"
	"github.com/wizenheimer/qeval/pkg/logger"
	"github.com/wizenheimer/qeval/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "qryeval.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := run(ctx, cfg); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
	slog.Info("run finished", "elapsed", time.Since(start))
}

// app holds what both flows share.
type app struct {
	cfg      *config.Config
	index    *qeval.MemoryIndex
	parser   *qeval.Parser
	model    qeval.Model
	metrics  *metrics.Metrics
	queries  []qeval.Query
	closers  []io.Closer
	shutdown func(context.Context) error
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := setup(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	out, err := os.Create(cfg.Run.OutputPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()
	writer := qeval.NewResultWriter(out, a.index, cfg.Run.RunID, cfg.Run.OutputLength)

	if cfg.IsLetor() {
		err = a.runLetor(ctx, writer)
	} else {
		err = a.runRetrieval(ctx, writer)
	}
	if err != nil {
		return err
	}
	return out.Close()
}

func setup(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	analyzer, err := qeval.NewAnalyzer(cfg.AnalyzerConfig())
	if err != nil {
		return nil, err
	}
	a.index, err = qeval.LoadSnapshot(cfg.Index.Path, analyzer)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	a.index.SetLogger(logger.WithComponent("index"))
	slog.Info("index loaded", "path", cfg.Index.Path, "documents", a.index.NumDocs())

	a.parser = qeval.NewParser(analyzer)
	if a.model, err = cfg.RetrievalModel(); err != nil {
		return nil, err
	}
	if a.queries, err = readQueries(cfg.Run.QueryFile); err != nil {
		return nil, err
	}

	a.metrics = metrics.New(nil)
	if cfg.Metrics.Enabled {
		a.shutdown = a.metrics.StartServer(cfg.Metrics.Addr)
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.shutdown(ctx)
	}
}

// runRetrieval ranks every query with the configured model, expanding with
// pseudo-relevance feedback when enabled.
func (a *app) runRetrieval(ctx context.Context, writer *qeval.ResultWriter) error {
	cfg := a.cfg
	searcher, err := qeval.NewSearcher(a.index, a.parser, a.model)
	if err != nil {
		return err
	}
	searcher.Logger = logger.WithComponent("searcher")

	runner := &qeval.Runner{
		Searcher: searcher,
		Length:   cfg.Run.OutputLength,
		Recorder: a.metrics,
		Logger:   logger.WithComponent("runner"),
	}

	if cfg.Feedback.Enabled {
		runner.Expander, err = qeval.NewExpander(a.index, cfg.FeedbackParams(), logger.WithComponent("expansion"))
		if err != nil {
			return err
		}
		if path := cfg.Feedback.InitialRankingFile; path != "" {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open initial ranking: %w", err)
			}
			runner.InitialRanking, err = qeval.ReadRanking(f, a.index, logger.WithComponent("ranking"))
			f.Close()
			if err != nil {
				return err
			}
		}
		if path := cfg.Feedback.ExpansionQueryFile; path != "" {
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create expansion query file: %w", err)
			}
			a.closers = append(a.closers, f)
			runner.ExpansionLog = f
		}
	}

	if cfg.Cache.Enabled {
		store, err := cache.NewRedisStore(cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
		if err != nil {
			slog.Warn("redis unavailable, result caching disabled", "error", err)
		} else {
			a.closers = append(a.closers, store)
			runner.Cache = cache.New(store, cfg.Cache.TTL, a.metrics)
			if runner.CacheScope, err = cacheScope(cfg); err != nil {
				return err
			}
			slog.Info("result cache enabled", "addr", cfg.Cache.Addr, "ttl", cfg.Cache.TTL)
		}
	}

	slog.Info("evaluating queries", "model", a.model.String(), "queries", len(a.queries))
	return runner.Run(ctx, a.queries, writer)
}

// cacheScope identifies the snapshot and the analyzer, so a rebuilt index
// or a different stemmer never reads results cached for another.
func cacheScope(cfg *config.Config) (string, error) {
	fi, err := os.Stat(cfg.Index.Path)
	if err != nil {
		return "", fmt.Errorf("stat index: %w", err)
	}
	return fmt.Sprintf("%s|%d|%d|%+v", cfg.Index.Path, fi.Size(), fi.ModTime().UnixNano(), cfg.AnalyzerConfig()), nil
}

// runLetor trains on the judged training queries, then reranks a BM25
// ranking of the run's queries with the learned model.
func (a *app) runLetor(ctx context.Context, writer *qeval.ResultWriter) error {
	cfg := a.cfg
	l := cfg.Letor

	enabled, err := letor.ParseFeatureDisable(l.FeatureDisable)
	if err != nil {
		return err
	}
	var attrs letor.AttributeSource
	if cfg.Attributes.DSN != "" {
		store, err := attrstore.Open(cfg.Attributes.DSN, cfg.Attributes.Table, a.index)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store)
		attrs = attrstore.Overlay{Primary: store, Fallback: a.index}
	}

	pipeline := &letor.Pipeline{
		Index:     a.index,
		Parser:    a.parser,
		Extractor: letor.NewExtractor(a.index, attrs, a.model.BM25, a.model.Indri, enabled),
		Ranker:    svmrank.New(l.LearnPath, l.ClassifyPath, logger.WithComponent("svmrank")),
		Files: letor.Files{
			TrainingFeatures: l.TrainingFeatureVectorsFile,
			Model:            l.ModelFile,
			TestingFeatures:  l.TestingFeatureVectorsFile,
			TestingScores:    l.TestingDocumentScores,
		},
		C:        l.C,
		Observer: a.metrics,
		Logger:   logger.WithComponent("letor"),
	}

	training, err := readQueries(l.TrainingQueryFile)
	if err != nil {
		return err
	}
	f, err := os.Open(l.TrainingQrelsFile)
	if err != nil {
		return fmt.Errorf("open training qrels: %w", err)
	}
	qrels, err := letor.ReadQrels(f, a.index, logger.WithComponent("qrels"))
	f.Close()
	if err != nil {
		return err
	}
	if err := pipeline.Train(ctx, training, qrels); err != nil {
		return err
	}

	searcher, err := qeval.NewSearcher(a.index, a.parser, a.model)
	if err != nil {
		return err
	}
	depth := cfg.Run.OutputLength
	if depth <= 0 {
		depth = -1
	}
	initial, err := letor.InitialRankings(searcher, a.queries, depth)
	if err != nil {
		return err
	}
	ranked, err := pipeline.Rerank(ctx, a.queries, initial, cfg.Run.OutputLength)
	if err != nil {
		return err
	}
	for _, r := range ranked {
		if err := writer.Write(r.QueryID, r.Results); err != nil {
			return fmt.Errorf("write results for query %s: %w", r.QueryID, err)
		}
	}
	return writer.Flush()
}

func readQueries(path string) ([]qeval.Query, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open query file: %w", err)
	}
	defer f.Close()
	return qeval.ReadQueries(f)
}
