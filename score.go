package qeval

import "math"

// ═══════════════════════════════════════════════════════════════════════════════
// SCORING POLICIES
// ═══════════════════════════════════════════════════════════════════════════════
// Score is only meaningful right after HasMatch returned true and reads the
// document the node matched. The (model, operator) pairs that reach the
// switches below were vetted by Initialize; anything else scores 0.
//
//	                 SCORE         AND          OR     SUM   WAND    WSUM
//	UnrankedBoolean  1             1            1
//	RankedBoolean    tf            min(child)   Σ
//	BM25             idf·tfw·uw                        Σ
//	Indri            Dirichlet     Π s^(1/n)                 Π s^(w/W) Σ (w/W)s
//
// Under Indri a child that is not on the matched document contributes its
// DefaultScore instead of its real score.
// ═══════════════════════════════════════════════════════════════════════════════

// Score returns the node's score for the document it currently matches, or
// 0 when it has no match.
func (n *Node) Score(m Model) float64 {
	if n.state != matchFound || n.Op.IsInverted() {
		return 0
	}
	doc := n.matchDoc

	switch m.Kind {
	case UnrankedBoolean:
		return 1

	case RankedBoolean:
		switch n.Op {
		case OpScore:
			return float64(n.Args[0].iter.TF())
		case OpAnd:
			score := math.MaxFloat64
			for _, a := range n.Args {
				score = math.Min(score, a.Score(m))
			}
			return score
		case OpOr:
			return n.sumMatching(m, doc)
		}

	case BM25:
		switch n.Op {
		case OpScore:
			return BM25Score(m.BM25, n.stats.numDocs, n.stats.df,
				float64(n.Args[0].iter.TF()),
				float64(n.idx.FieldLength(n.Args[0].Field, doc)),
				n.stats.avgLen)
		case OpSum:
			return n.sumMatching(m, doc)
		}

	case Indri:
		switch n.Op {
		case OpScore:
			return IndriScore(m.Indri,
				float64(n.Args[0].iter.TF()),
				n.stats.ctf,
				float64(n.idx.FieldLength(n.Args[0].Field, doc)),
				n.stats.sumLen)
		case OpAnd:
			exp := 1.0 / float64(len(n.Args))
			score := 1.0
			for _, a := range n.Args {
				score *= math.Pow(a.scoreOrDefault(m, doc), exp)
			}
			return score
		case OpWAnd:
			score := 1.0
			for i, a := range n.Args {
				score *= math.Pow(a.scoreOrDefault(m, doc), n.Weights[i]/n.weightSum)
			}
			return score
		case OpWSum:
			score := 0.0
			for i, a := range n.Args {
				score += n.Weights[i] / n.weightSum * a.scoreOrDefault(m, doc)
			}
			return score
		}
	}
	return 0
}

func (n *Node) sumMatching(m Model, doc int) float64 {
	var sum float64
	for _, a := range n.Args {
		if a.matchedAt(m, doc) {
			sum += a.Score(m)
		}
	}
	return sum
}

func (n *Node) scoreOrDefault(m Model, doc int) float64 {
	if n.matchedAt(m, doc) {
		return n.Score(m)
	}
	return n.DefaultScore(m, doc)
}

// DefaultScore is the score the node gives doc when it does not match it.
// Only the language model assigns non-zero mass to unseen terms; for every
// other model it is 0.
func (n *Node) DefaultScore(m Model, doc int) float64 {
	if m.Kind != Indri || n.Op.IsInverted() {
		return 0
	}
	switch n.Op {
	case OpScore:
		return IndriDefaultScore(m.Indri, n.stats.ctf,
			float64(n.idx.FieldLength(n.Args[0].Field, doc)),
			n.stats.sumLen)
	case OpAnd:
		exp := 1.0 / float64(len(n.Args))
		score := 1.0
		for _, a := range n.Args {
			score *= math.Pow(a.DefaultScore(m, doc), exp)
		}
		return score
	case OpWAnd:
		score := 1.0
		for i, a := range n.Args {
			score *= math.Pow(a.DefaultScore(m, doc), n.Weights[i]/n.weightSum)
		}
		return score
	case OpWSum:
		score := 0.0
		for i, a := range n.Args {
			score += n.Weights[i] / n.weightSum * a.DefaultScore(m, doc)
		}
		return score
	}
	return 0
}
