package qeval

import "slices"

// ═══════════════════════════════════════════════════════════════════════════════
// PROXIMITY AND SYNONYM OPERATORS
// ═══════════════════════════════════════════════════════════════════════════════
// These operators build a synthetic posting list up front. The output
// positions of a document must be sorted before anyone reads them, so lazy
// evaluation buys nothing here.
//
// NEAR/k, ordered: every argument must occur after the previous one and at
// most k positions from it. With a = [1, 10] and b = [2, 4]:
//
//	a@1  → b advances past 1 → b@2, gap 1 ≤ 2  → emit 2, advance a and b
//	a@10 → b advances past 10 → exhausted       → done with this document
//
// WINDOW/k, unordered: the current positions of all arguments must fit in a
// span max - min ≤ k. On failure only the argument holding the minimum
// position moves; ties go to the lowest argument index.
//
// Both record the rightmost position of each match. Matches never overlap:
// after a match every argument moves past its matched position.
// ═══════════════════════════════════════════════════════════════════════════════

// commonDoc moves the arguments' document cursors until they all sit on the
// same document.
func commonDoc(args []*Node) (int, bool) {
	if len(args) == 0 || !args[0].iter.HasDoc() {
		return 0, false
	}
	candidate := args[0].iter.Doc()
	for {
		agreed := true
		for _, a := range args {
			a.iter.AdvanceTo(candidate)
			if !a.iter.HasDoc() {
				return 0, false
			}
			if d := a.iter.Doc(); d > candidate {
				candidate = d
				agreed = false
				break
			}
		}
		if agreed {
			return candidate, true
		}
	}
}

func (n *Node) evaluateNear() *PostingList {
	out := NewPostingList(n.Field)
	if len(n.Args) == 0 {
		return out
	}
	first := n.Args[0].iter

	for {
		doc, ok := commonDoc(n.Args)
		if !ok {
			return out
		}

		var positions []int
	scan:
		for first.HasLoc() {
			anchor := first.Loc()
			matched := true
			for _, a := range n.Args[1:] {
				a.iter.AdvanceLocPast(anchor)
				if !a.iter.HasLoc() {
					break scan
				}
				loc := a.iter.Loc()
				if loc-anchor > n.Distance {
					first.AdvanceLoc()
					matched = false
					break
				}
				anchor = loc
			}
			if matched {
				positions = append(positions, anchor)
				for _, a := range n.Args {
					a.iter.AdvanceLoc()
				}
			}
		}

		if len(positions) > 0 {
			slices.Sort(positions)
			out.Append(doc, positions)
		}
		first.AdvancePast(doc)
	}
}

func (n *Node) evaluateWindow() *PostingList {
	out := NewPostingList(n.Field)
	if len(n.Args) == 0 {
		return out
	}
	first := n.Args[0].iter

	for {
		doc, ok := commonDoc(n.Args)
		if !ok {
			return out
		}

		var positions []int
	scan:
		for {
			var minLoc, maxLoc, minArg int
			for i, a := range n.Args {
				if !a.iter.HasLoc() {
					break scan
				}
				loc := a.iter.Loc()
				if i == 0 || loc < minLoc {
					minLoc, minArg = loc, i
				}
				if i == 0 || loc > maxLoc {
					maxLoc = loc
				}
			}
			if maxLoc-minLoc <= n.Distance {
				positions = append(positions, maxLoc)
				for _, a := range n.Args {
					a.iter.AdvanceLoc()
				}
			} else {
				n.Args[minArg].iter.AdvanceLoc()
			}
		}

		if len(positions) > 0 {
			slices.Sort(positions)
			out.Append(doc, positions)
		}
		first.AdvancePast(doc)
	}
}

// evaluateSyn merges the arguments into one list. A document appears if any
// argument has it; its positions are the sorted union of theirs.
func (n *Node) evaluateSyn() *PostingList {
	out := NewPostingList(n.Field)
	for {
		doc, found := 0, false
		for _, a := range n.Args {
			if a.iter.HasDoc() && (!found || a.iter.Doc() < doc) {
				doc, found = a.iter.Doc(), true
			}
		}
		if !found {
			return out
		}

		var positions []int
		for _, a := range n.Args {
			if a.iter.HasDoc() && a.iter.Doc() == doc {
				positions = append(positions, a.iter.Posting().Positions...)
				a.iter.AdvancePast(doc)
			}
		}
		slices.Sort(positions)
		out.Append(doc, slices.Compact(positions))
	}
}
