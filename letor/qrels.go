package letor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/wizenheimer/qeval"
)

// Judgment is a relevance label for one document.
type Judgment struct {
	Doc   int
	Label string
}

// Qrels maps a query id to its judged documents in file order.
type Qrels map[string][]Judgment

// ReadQrels parses "qid 0 externalID label" lines. Documents unknown to idx
// are skipped with a warning. A document judged twice for the same query
// keeps its first position and takes the last label.
func ReadQrels(r io.Reader, idx qeval.Index, logger *slog.Logger) (Qrels, error) {
	if logger == nil {
		logger = slog.Default()
	}
	qrels := make(Qrels)
	seen := make(map[string]*roaring.Bitmap)

	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 4 {
			return nil, fmt.Errorf("qrels line %d: want 4 fields, got %d", line, len(fields))
		}
		qid, ext, label := fields[0], fields[2], fields[3]

		doc, err := idx.InternalID(ext)
		if errors.Is(err, qeval.ErrNoDocument) {
			logger.Warn("qrels reference unknown document",
				slog.String("qid", qid), slog.String("externalID", ext))
			continue
		} else if err != nil {
			return nil, err
		}

		docs, ok := seen[qid]
		if !ok {
			docs = roaring.New()
			seen[qid] = docs
		}
		if !docs.CheckedAdd(uint32(doc)) {
			js := qrels[qid]
			for i := range js {
				if js[i].Doc == doc {
					js[i].Label = label
				}
			}
			continue
		}
		qrels[qid] = append(qrels[qid], Judgment{Doc: doc, Label: label})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read qrels: %w", err)
	}
	return qrels, nil
}
