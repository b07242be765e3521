package transport

import "fmt"

// ackFrame is ACK or ACK_ECN (RFC 9000 Section 19.3).
type ackFrame struct {
	largestAck    uint64
	ackDelay      uint64 // encoded (scaled) form
	firstAckRange uint64
	ranges        []pnRange // additional ranges below the first, largest-first
	ecn           bool
	ect0, ect1, ce uint64
}

func newAckFrame(ackDelay uint64, recvd *rangeSet) *ackFrame {
	rs := recvd.ackRanges()
	f := &ackFrame{ackDelay: ackDelay}
	if len(rs) == 0 {
		return f
	}
	f.largestAck = uint64(rs[0].largest)
	f.firstAckRange = rs[0].size() - 1
	f.ranges = rs[1:]
	return f
}

func (f *ackFrame) typ() uint64 {
	if f.ecn {
		return frameTypeAckECN
	}
	return frameTypeAck
}

func (f *ackFrame) encodedLen() int {
	n := varintLen(f.typ()) + varintLen(f.largestAck) + varintLen(f.ackDelay)
	n += varintLen(uint64(len(f.ranges)))
	n += varintLen(f.firstAckRange)
	prevSmallest := packetNumber(f.largestAck) - packetNumber(f.firstAckRange)
	for _, r := range f.ranges {
		gap := prevSmallest - r.largest - 2
		n += varintLen(uint64(gap))
		n += varintLen(uint64(r.size() - 1))
		prevSmallest = r.smallest
	}
	if f.ecn {
		n += varintLen(f.ect0) + varintLen(f.ect1) + varintLen(f.ce)
	}
	return n
}

func (f *ackFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	off := 0
	off += putVarint(b[off:], f.typ())
	off += putVarint(b[off:], f.largestAck)
	off += putVarint(b[off:], f.ackDelay)
	off += putVarint(b[off:], uint64(len(f.ranges)))
	off += putVarint(b[off:], f.firstAckRange)
	prevSmallest := packetNumber(f.largestAck) - packetNumber(f.firstAckRange)
	for _, r := range f.ranges {
		gap := uint64(prevSmallest - r.largest - 2)
		off += putVarint(b[off:], gap)
		off += putVarint(b[off:], uint64(r.size()-1))
		prevSmallest = r.smallest
	}
	if f.ecn {
		off += putVarint(b[off:], f.ect0)
		off += putVarint(b[off:], f.ect1)
		off += putVarint(b[off:], f.ce)
	}
	return off, nil
}

func (f *ackFrame) decode(b []byte) (int, error) {
	off := 0
	var typ uint64
	n := getVarint(b[off:], &typ)
	if n == 0 || (typ != frameTypeAck && typ != frameTypeAckECN) {
		return 0, errMalformedFrame
	}
	off += n
	f.ecn = typ == frameTypeAckECN
	if n = getVarint(b[off:], &f.largestAck); n == 0 {
		return 0, errMalformedFrame
	}
	off += n
	if n = getVarint(b[off:], &f.ackDelay); n == 0 {
		return 0, errMalformedFrame
	}
	off += n
	var rangeCount uint64
	if n = getVarint(b[off:], &rangeCount); n == 0 {
		return 0, errMalformedFrame
	}
	off += n
	if n = getVarint(b[off:], &f.firstAckRange); n == 0 {
		return 0, errMalformedFrame
	}
	off += n
	if f.firstAckRange > f.largestAck {
		return 0, errMalformedFrame
	}
	f.ranges = f.ranges[:0]
	smallest := packetNumber(f.largestAck) - packetNumber(f.firstAckRange)
	for i := uint64(0); i < rangeCount; i++ {
		var gap, length uint64
		if n = getVarint(b[off:], &gap); n == 0 {
			return 0, errMalformedFrame
		}
		off += n
		if n = getVarint(b[off:], &length); n == 0 {
			return 0, errMalformedFrame
		}
		off += n
		largest := smallest - packetNumber(gap) - 2
		newSmallest := largest - packetNumber(length)
		if largest < 0 || newSmallest < 0 || largest >= smallest {
			return 0, errMalformedFrame
		}
		f.ranges = append(f.ranges, pnRange{smallest: newSmallest, largest: largest})
		smallest = newSmallest
	}
	if f.ecn {
		for _, v := range []*uint64{&f.ect0, &f.ect1, &f.ce} {
			if n = getVarint(b[off:], v); n == 0 {
				return 0, errMalformedFrame
			}
			off += n
		}
	}
	return off, nil
}

// toRangeSet rebuilds the full ack-range set this frame describes, or nil if
// the frame encodes an invalid (non-decreasing) sequence of ranges.
func (f *ackFrame) toRangeSet() *rangeSet {
	s := &rangeSet{}
	largest := packetNumber(f.largestAck)
	smallest := largest - packetNumber(f.firstAckRange)
	if smallest < 0 {
		return nil
	}
	s.ranges = append(s.ranges, pnRange{smallest: smallest, largest: largest})
	for _, r := range f.ranges {
		if r.largest >= smallest || r.smallest > r.largest {
			return nil
		}
		s.ranges = append(s.ranges, r)
		smallest = r.smallest
	}
	return s
}

func (f *ackFrame) String() string {
	return fmt.Sprintf("frame_type=ack ack_delay=%d", f.ackDelay)
}
