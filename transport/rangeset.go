package transport

import "sort"

// pnRange is an inclusive range of packet numbers [smallest, largest].
type pnRange struct {
	smallest, largest packetNumber
}

func (r pnRange) size() int64 { return int64(r.largest-r.smallest) + 1 }

// rangeSet is a sorted, non-overlapping, non-adjacent set of packet-number
// ranges, largest-first. It backs both the per-space received-PN tracking
// used by the ACK generator and the ACK frame's own range list.
//
// Kept as a slice rather than a tree: per spec.md §4.4 this holds a handful
// of ranges in the common case (reordering is the exception, not the rule),
// so linear insertion is the right trade-off over a balanced tree.
type rangeSet struct {
	ranges []pnRange // largest-first
}

// insert adds pn to the set and returns true if pn was newly added (i.e. it
// had not already been recorded), per spec.md §9's instruction that any
// "insert" style operation must always report what happened rather than
// silently doing nothing.
func (s *rangeSet) insert(pn packetNumber) bool {
	for i := range s.ranges {
		r := &s.ranges[i]
		switch {
		case pn >= r.smallest && pn <= r.largest:
			return false // duplicate
		case pn == r.largest+1:
			r.largest = pn
			s.mergeForward(i)
			return true
		case pn+1 == r.smallest:
			r.smallest = pn
			s.mergeBackward(i)
			return true
		case pn > r.largest:
			// pn belongs before this range (we're largest-first).
			nr := pnRange{smallest: pn, largest: pn}
			s.ranges = append(s.ranges, pnRange{})
			copy(s.ranges[i+1:], s.ranges[i:])
			s.ranges[i] = nr
			return true
		}
	}
	s.ranges = append(s.ranges, pnRange{smallest: pn, largest: pn})
	return true
}

func (s *rangeSet) mergeForward(i int) {
	for i > 0 && s.ranges[i].largest+1 >= s.ranges[i-1].smallest {
		if s.ranges[i].smallest < s.ranges[i-1].smallest {
			s.ranges[i-1].smallest = s.ranges[i].smallest
		}
		s.ranges = append(s.ranges[:i], s.ranges[i+1:]...)
		i--
	}
}

func (s *rangeSet) mergeBackward(i int) {
	for i+1 < len(s.ranges) && s.ranges[i+1].largest+1 >= s.ranges[i].smallest {
		if s.ranges[i+1].smallest < s.ranges[i].smallest {
			s.ranges[i].smallest = s.ranges[i+1].smallest
		}
		s.ranges = append(s.ranges[:i+1], s.ranges[i+2:]...)
	}
}

// contains reports whether pn has already been recorded.
func (s *rangeSet) contains(pn packetNumber) bool {
	for _, r := range s.ranges {
		if pn >= r.smallest && pn <= r.largest {
			return true
		}
		if pn > r.largest {
			return false
		}
	}
	return false
}

// largest returns the largest packet number in the set, or -1 if empty.
func (s *rangeSet) largestSeen() packetNumber {
	if len(s.ranges) == 0 {
		return -1
	}
	return s.ranges[0].largest
}

// removeUntil drops every range (and partial range) at or below pn, used once
// the peer has acknowledged our ACK of those packets (spec.md §4.4).
func (s *rangeSet) removeUntil(pn packetNumber) {
	kept := s.ranges[:0]
	for _, r := range s.ranges {
		if r.largest <= pn {
			continue
		}
		if r.smallest <= pn {
			r.smallest = pn + 1
		}
		kept = append(kept, r)
	}
	s.ranges = kept
}

func (s *rangeSet) empty() bool { return len(s.ranges) == 0 }

// ackRanges converts to the wire-order (largest-first) list of ranges an ACK
// frame encodes.
func (s *rangeSet) ackRanges() []pnRange {
	out := make([]pnRange, len(s.ranges))
	copy(out, s.ranges)
	sort.Slice(out, func(i, j int) bool { return out[i].largest > out[j].largest })
	return out
}
