package letor

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Vector is one line of a feature file:
//
//	label qid:Q 1:v1 2:v2 ... 18:v18 # externalID
type Vector struct {
	Label      string
	QueryID    string
	ExternalID string
	Values     Values
}

// WriteVectors writes vectors in the ranker's input format, one per line.
func WriteVectors(w io.Writer, vectors []Vector) error {
	bw := bufio.NewWriter(w)
	for _, v := range vectors {
		if _, err := bw.WriteString(v.Label + " qid:" + v.QueryID); err != nil {
			return err
		}
		for i, x := range v.Values {
			if _, err := fmt.Fprintf(bw, " %d:%s", i+1, strconv.FormatFloat(x, 'g', -1, 64)); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString(" # " + v.ExternalID + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadVectors parses a feature file written by WriteVectors. Feature numbers
// outside 1..NumFeatures are rejected.
func ReadVectors(r io.Reader) ([]Vector, error) {
	var vectors []Vector
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		v, err := parseVector(text)
		if err != nil {
			return nil, fmt.Errorf("feature line %d: %w", line, err)
		}
		vectors = append(vectors, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read feature vectors: %w", err)
	}
	return vectors, nil
}

func parseVector(text string) (Vector, error) {
	var v Vector
	body, comment, ok := strings.Cut(text, "#")
	if !ok {
		return v, fmt.Errorf("missing '# externalID'")
	}
	v.ExternalID = strings.TrimSpace(comment)
	if v.ExternalID == "" {
		return v, fmt.Errorf("empty external id")
	}

	fields := strings.Fields(body)
	if len(fields) < 2 || !strings.HasPrefix(fields[1], "qid:") {
		return v, fmt.Errorf("want 'label qid:Q', got %q", body)
	}
	v.Label = fields[0]
	v.QueryID = strings.TrimPrefix(fields[1], "qid:")

	for _, f := range fields[2:] {
		num, val, ok := strings.Cut(f, ":")
		if !ok {
			return v, fmt.Errorf("bad feature %q", f)
		}
		n, err := strconv.Atoi(num)
		if err != nil || n < 1 || n > NumFeatures {
			return v, fmt.Errorf("bad feature number %q", num)
		}
		x, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return v, fmt.Errorf("bad value for feature %d: %w", n, err)
		}
		v.Values[n-1] = x
	}
	return v, nil
}

// ReadScores parses a ranker score file: one number per line, in the order
// of the classified feature file.
func ReadScores(r io.Reader) ([]float64, error) {
	var scores []float64
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		x, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("score line %d: %w", line, err)
		}
		scores = append(scores, x)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read scores: %w", err)
	}
	return scores, nil
}
