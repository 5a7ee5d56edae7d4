package engine

import (
	"time"

	"hsa-planner/internal/model"
)

// segment is a run of months inside the eligibility window under one
// coverage category.
type segment struct {
	first, last time.Month
	coverage    model.Coverage
}

func (s segment) months() int {
	return int(s.last-s.first) + 1
}

// coverageSegments splits the window at every coverage change that takes
// effect inside it. Changes effective at or before the window start only set
// the opening category; changes after the window are ignored. Adjacent
// segments with the same category are merged.
func coverageSegments(snap model.UserSnapshot, w window) []segment {
	if w.months() == 0 {
		return nil
	}

	segs := []segment{{first: w.first, last: w.last, coverage: snap.Coverage}}
	for _, ch := range snap.CoverageChanges {
		bm := boundaryMonth(ch.Effective, w.year)
		cur := &segs[len(segs)-1]
		switch {
		case bm > w.last:
			continue
		case bm <= cur.first:
			cur.coverage = ch.Category
		case ch.Category == cur.coverage:
			continue
		default:
			cur.last = bm - 1
			segs = append(segs, segment{first: bm, last: w.last, coverage: ch.Category})
		}
	}

	merged := segs[:1]
	for _, s := range segs[1:] {
		prev := &merged[len(merged)-1]
		if prev.coverage == s.coverage {
			prev.last = s.last
			continue
		}
		merged = append(merged, s)
	}
	return merged
}
