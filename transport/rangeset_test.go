package transport

import "testing"

func TestRangeSetInsertDuplicate(t *testing.T) {
	var s rangeSet
	if !s.insert(5) {
		t.Fatal("first insert of 5 reported no change")
	}
	if s.insert(5) {
		t.Fatal("duplicate insert of 5 reported a change")
	}
}

func TestRangeSetMergeForwardAndBackward(t *testing.T) {
	var s rangeSet
	for _, pn := range []packetNumber{10, 12, 11} {
		s.insert(pn)
	}
	if len(s.ranges) != 1 {
		t.Fatalf("ranges = %v, want a single merged range", s.ranges)
	}
	if s.ranges[0].smallest != 10 || s.ranges[0].largest != 12 {
		t.Fatalf("range = %v, want [10,12]", s.ranges[0])
	}
}

func TestRangeSetOutOfOrderReordering(t *testing.T) {
	var s rangeSet
	order := []packetNumber{20, 5, 15, 6, 7, 16}
	for _, pn := range order {
		s.insert(pn)
	}
	for _, pn := range order {
		if !s.contains(pn) {
			t.Fatalf("contains(%d) = false after inserting it", pn)
		}
	}
	if s.contains(8) || s.contains(14) {
		t.Fatal("contains reported a gap packet number as present")
	}
	if s.largestSeen() != 20 {
		t.Fatalf("largestSeen() = %d, want 20", s.largestSeen())
	}
}

func TestRangeSetRemoveUntil(t *testing.T) {
	var s rangeSet
	for pn := packetNumber(0); pn <= 10; pn++ {
		s.insert(pn)
	}
	s.removeUntil(5)
	if s.contains(5) || s.contains(3) {
		t.Fatal("removeUntil left packet numbers at or below the cutoff")
	}
	if !s.contains(6) || !s.contains(10) {
		t.Fatal("removeUntil dropped packet numbers above the cutoff")
	}
}

func TestRangeSetAckRangesOrder(t *testing.T) {
	var s rangeSet
	for _, pn := range []packetNumber{1, 2, 10, 11, 20} {
		s.insert(pn)
	}
	ranges := s.ackRanges()
	for i := 1; i < len(ranges); i++ {
		if ranges[i-1].largest <= ranges[i].largest {
			t.Fatalf("ackRanges not largest-first: %v", ranges)
		}
	}
}

func TestRangeSetEmpty(t *testing.T) {
	var s rangeSet
	if !s.empty() {
		t.Fatal("empty() false on a fresh rangeSet")
	}
	if s.largestSeen() != -1 {
		t.Fatalf("largestSeen() on empty set = %d, want -1", s.largestSeen())
	}
}
