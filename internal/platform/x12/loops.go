package x12

// SplitLoops partitions segments into runs, each starting at a segment for
// which isStart reports true. Segments before the first start are returned
// separately.
func SplitLoops(segs []Segment, isStart func(Segment) bool) (preamble []Segment, loops [][]Segment) {
	for _, s := range segs {
		if isStart(s) {
			loops = append(loops, []Segment{s})
			continue
		}
		if len(loops) == 0 {
			preamble = append(preamble, s)
			continue
		}
		loops[len(loops)-1] = append(loops[len(loops)-1], s)
	}
	return preamble, loops
}

// StartsWith returns a loop predicate matching any of the given segment ids.
func StartsWith(ids ...string) func(Segment) bool {
	return func(s Segment) bool {
		for _, id := range ids {
			if s.ID == id {
				return true
			}
		}
		return false
	}
}

// HL describes one hierarchical level segment.
type HL struct {
	ID       string
	ParentID string
	Level    string
	HasChild bool
}

// ParseHL reads an HL segment.
func ParseHL(s Segment) HL {
	return HL{ID: s.Get(1), ParentID: s.Get(2), Level: s.Get(3), HasChild: s.Get(4) == "1"}
}
