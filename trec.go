package qeval

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// Query is one line of a query file.
type Query struct {
	ID   string
	Text string
}

// ReadQueries parses "qid:query text" lines. Blank lines are skipped; a line
// without ':' is a syntax error.
func ReadQueries(r io.Reader) ([]Query, error) {
	var queries []Query
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		id, q, ok := strings.Cut(text, ":")
		if !ok {
			return nil, &SyntaxError{Query: text, Pos: 0, Msg: fmt.Sprintf("line %d: missing ':' after query id", line)}
		}
		queries = append(queries, Query{ID: strings.TrimSpace(id), Text: strings.TrimSpace(q)})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read queries: %w", err)
	}
	return queries, nil
}

// ResultWriter emits ranked results in trec_eval format:
//
//	qid Q0 externalID rank score runID
type ResultWriter struct {
	w      *bufio.Writer
	index  Index
	runID  string
	length int
}

// NewResultWriter writes at most length results per query; length <= 0
// writes all of them.
func NewResultWriter(w io.Writer, idx Index, runID string, length int) *ResultWriter {
	return &ResultWriter{w: bufio.NewWriter(w), index: idx, runID: runID, length: length}
}

// Write emits the results of one query. The list must already be sorted.
// A query without results gets a single dummy line so evaluation tools still
// see it.
func (rw *ResultWriter) Write(qid string, results *ScoreList) error {
	n := results.Len()
	if rw.length > 0 && n > rw.length {
		n = rw.length
	}
	if n == 0 {
		_, err := fmt.Fprintf(rw.w, "%s Q0 dummy 1 0 %s\n", qid, rw.runID)
		return err
	}
	for i := 0; i < n; i++ {
		ext, err := rw.index.ExternalID(results.Doc(i))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(rw.w, "%s Q0 %s %d %s %s\n",
			qid, ext, i+1, strconv.FormatFloat(results.Score(i), 'f', -1, 64), rw.runID); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes buffered output.
func (rw *ResultWriter) Flush() error {
	return rw.w.Flush()
}

// ReadRanking parses a trec_eval result file into one unsorted ScoreList per
// query id. Documents unknown to idx are skipped with a warning.
func ReadRanking(r io.Reader, idx Index, logger *slog.Logger) (map[string]*ScoreList, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rankings := make(map[string]*ScoreList)
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 5 {
			return nil, fmt.Errorf("ranking line %d: want 6 fields, got %d", line, len(fields))
		}
		qid, ext := fields[0], fields[2]
		score, err := strconv.ParseFloat(fields[4], 64)
		if err != nil {
			return nil, fmt.Errorf("ranking line %d: bad score %q: %w", line, fields[4], err)
		}
		if ext == "dummy" {
			continue
		}
		doc, err := idx.InternalID(ext)
		if errors.Is(err, ErrNoDocument) {
			logger.Warn("ranking references unknown document",
				slog.String("qid", qid), slog.String("externalID", ext))
			continue
		} else if err != nil {
			return nil, err
		}
		list, ok := rankings[qid]
		if !ok {
			list = NewScoreList(0)
			rankings[qid] = list
		}
		list.Add(doc, score)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ranking: %w", err)
	}
	return rankings, nil
}
