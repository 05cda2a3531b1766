// Package config loads and validates run configuration from YAML files with
// environment-variable overrides. Every section has a typed struct and a
// default, so a minimal file only names the index, the queries and the
// output.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wizenheimer/qeval"
)

// AlgorithmLetor selects the learning-to-rank flow instead of a single
// retrieval model.
const AlgorithmLetor = "letor"

// Config is the top-level run configuration.
type Config struct {
	Index      IndexConfig      `yaml:"index"`
	Run        RunConfig        `yaml:"run"`
	Model      ModelConfig      `yaml:"model"`
	Feedback   FeedbackConfig   `yaml:"feedback"`
	Letor      LetorConfig      `yaml:"letor"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Cache      CacheConfig      `yaml:"cache"`
	Attributes AttributesConfig `yaml:"attributes"`
}

// IndexConfig locates the index snapshot.
type IndexConfig struct {
	Path string `yaml:"path"`
}

// RunConfig names the query file and the ranked output.
type RunConfig struct {
	QueryFile    string `yaml:"queryFile"`
	OutputPath   string `yaml:"outputPath"`
	OutputLength int    `yaml:"outputLength"`
	RunID        string `yaml:"runID"`
}

// ModelConfig selects the retrieval model and its parameters.
type ModelConfig struct {
	Algorithm string      `yaml:"algorithm"`
	BM25      BM25Config  `yaml:"bm25"`
	Indri     IndriConfig `yaml:"indri"`
}

// BM25Config holds the BM25 parameters.
type BM25Config struct {
	K1 float64 `yaml:"k1"`
	B  float64 `yaml:"b"`
	K3 float64 `yaml:"k3"`
}

// IndriConfig holds the Dirichlet smoothing parameters.
type IndriConfig struct {
	Mu     float64 `yaml:"mu"`
	Lambda float64 `yaml:"lambda"`
}

// FeedbackConfig controls pseudo-relevance feedback.
type FeedbackConfig struct {
	Enabled            bool    `yaml:"enabled"`
	Docs               int     `yaml:"docs"`
	Terms              int     `yaml:"terms"`
	Mu                 float64 `yaml:"mu"`
	OrigWeight         float64 `yaml:"origWeight"`
	InitialRankingFile string  `yaml:"initialRankingFile"`
	ExpansionQueryFile string  `yaml:"expansionQueryFile"`
}

// LetorConfig names the files and tools of the reranking flow.
type LetorConfig struct {
	TrainingQrelsFile          string  `yaml:"trainingQrelsFile"`
	TrainingQueryFile          string  `yaml:"trainingQueryFile"`
	TrainingFeatureVectorsFile string  `yaml:"trainingFeatureVectorsFile"`
	LearnPath                  string  `yaml:"learnPath"`
	ClassifyPath               string  `yaml:"classifyPath"`
	ModelFile                  string  `yaml:"modelFile"`
	TestingFeatureVectorsFile  string  `yaml:"testingFeatureVectorsFile"`
	TestingDocumentScores      string  `yaml:"testingDocumentScores"`
	C                          float64 `yaml:"c"`
	FeatureDisable             string  `yaml:"featureDisable"`
}

// AnalyzerConfig controls query term analysis.
type AnalyzerConfig struct {
	Stemmer        string `yaml:"stemmer"`
	Stopwords      bool   `yaml:"stopwords"`
	MinTokenLength int    `yaml:"minTokenLength"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// CacheConfig controls the Redis result cache.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// AttributesConfig points at an optional Postgres table of document
// attributes. An empty DSN keeps the attributes stored in the index.
type AttributesConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides on top of the defaults. It does not validate; call Validate.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	bm25 := qeval.DefaultBM25Params()
	indri := qeval.DefaultIndriParams()
	fb := qeval.DefaultFeedbackParams()
	return &Config{
		Run: RunConfig{
			OutputLength: 100,
			RunID:        "run-1",
		},
		Model: ModelConfig{
			BM25:  BM25Config{K1: bm25.K1, B: bm25.B, K3: bm25.K3},
			Indri: IndriConfig{Mu: indri.Mu, Lambda: indri.Lambda},
		},
		Feedback: FeedbackConfig{
			Docs:       fb.Docs,
			Terms:      fb.Terms,
			Mu:         fb.Mu,
			OrigWeight: fb.OrigWeight,
		},
		Letor: LetorConfig{
			C: 0.001,
		},
		Analyzer: AnalyzerConfig{
			Stemmer:        qeval.StemmerSnowball,
			Stopwords:      true,
			MinTokenLength: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Cache: CacheConfig{
			Addr: "localhost:6379",
			TTL:  10 * time.Minute,
		},
		Attributes: AttributesConfig{
			Table: "document_attributes",
		},
	}
}

// applyEnvOverrides lets QE_* variables replace file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QE_INDEX_PATH"); v != "" {
		cfg.Index.Path = v
	}
	if v := os.Getenv("QE_QUERY_FILE"); v != "" {
		cfg.Run.QueryFile = v
	}
	if v := os.Getenv("QE_OUTPUT_PATH"); v != "" {
		cfg.Run.OutputPath = v
	}
	if v := os.Getenv("QE_OUTPUT_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Run.OutputLength = n
		}
	}
	if v := os.Getenv("QE_ALGORITHM"); v != "" {
		cfg.Model.Algorithm = v
	}
	if v := os.Getenv("QE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("QE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("QE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("QE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("QE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("QE_REDIS_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("QE_REDIS_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("QE_ATTRIBUTES_DSN"); v != "" {
		cfg.Attributes.DSN = v
	}
	if v := os.Getenv("QE_SVM_RANK_LEARN"); v != "" {
		cfg.Letor.LearnPath = v
	}
	if v := os.Getenv("QE_SVM_RANK_CLASSIFY"); v != "" {
		cfg.Letor.ClassifyPath = v
	}
}

// IsLetor reports whether the run reranks with a learned model.
func (c *Config) IsLetor() bool {
	return strings.EqualFold(c.Model.Algorithm, AlgorithmLetor)
}

// RetrievalModel returns the model named by model.algorithm. The letor flow
// ranks its candidates with BM25.
func (c *Config) RetrievalModel() (qeval.Model, error) {
	kind := qeval.BM25
	if !c.IsLetor() {
		k, err := qeval.ParseModelKind(c.Model.Algorithm)
		if err != nil {
			return qeval.Model{}, err
		}
		kind = k
	}
	m := qeval.NewModel(kind)
	m.BM25 = qeval.BM25Params{K1: c.Model.BM25.K1, B: c.Model.BM25.B, K3: c.Model.BM25.K3}
	m.Indri = qeval.IndriParams{Mu: c.Model.Indri.Mu, Lambda: c.Model.Indri.Lambda}
	return m, m.Validate()
}

// FeedbackParams converts the feedback section.
func (c *Config) FeedbackParams() qeval.FeedbackParams {
	return qeval.FeedbackParams{
		Docs:       c.Feedback.Docs,
		Terms:      c.Feedback.Terms,
		Mu:         c.Feedback.Mu,
		OrigWeight: c.Feedback.OrigWeight,
		Field:      qeval.FieldBody,
	}
}

// AnalyzerConfig converts the analyzer section.
func (c *Config) AnalyzerConfig() qeval.AnalyzerConfig {
	return qeval.AnalyzerConfig{
		Stemmer:         c.Analyzer.Stemmer,
		EnableStopwords: c.Analyzer.Stopwords,
		MinTokenLength:  c.Analyzer.MinTokenLength,
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	require := func(value, key string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	require(c.Index.Path, "index.path")
	require(c.Run.QueryFile, "run.queryFile")
	require(c.Run.OutputPath, "run.outputPath")
	require(c.Model.Algorithm, "model.algorithm")

	m, err := c.RetrievalModel()
	if c.Model.Algorithm != "" && err != nil {
		errs = append(errs, fmt.Errorf("model: %w", err))
	}

	if c.Feedback.Enabled {
		if err == nil && m.Kind != qeval.Indri {
			errs = append(errs, fmt.Errorf("feedback requires the indri model, got %s", c.Model.Algorithm))
		}
		if err := c.FeedbackParams().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("feedback: %w", err))
		}
	}

	if c.IsLetor() {
		l := c.Letor
		require(l.TrainingQrelsFile, "letor.trainingQrelsFile")
		require(l.TrainingQueryFile, "letor.trainingQueryFile")
		require(l.TrainingFeatureVectorsFile, "letor.trainingFeatureVectorsFile")
		require(l.LearnPath, "letor.learnPath")
		require(l.ClassifyPath, "letor.classifyPath")
		require(l.ModelFile, "letor.modelFile")
		require(l.TestingFeatureVectorsFile, "letor.testingFeatureVectorsFile")
		require(l.TestingDocumentScores, "letor.testingDocumentScores")
		if l.C <= 0 {
			errs = append(errs, fmt.Errorf("letor.c must be positive, got %g", l.C))
		}
	}

	if c.Cache.Enabled {
		require(c.Cache.Addr, "cache.addr")
	}
	if c.Metrics.Enabled {
		require(c.Metrics.Addr, "metrics.addr")
	}
	return errors.Join(errs...)
}
