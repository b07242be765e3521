package transport

import "fmt"

// streamFrame is STREAM (RFC 9000 Section 19.8). Low 3 bits of the type
// select presence of OFF (0x04), LEN (0x02) and FIN (0x01).
type streamFrame struct {
	streamID uint64
	offset   uint64
	data     []byte
	fin      bool
}

func newStreamFrame(id uint64, data []byte, offset uint64, fin bool) *streamFrame {
	return &streamFrame{streamID: id, data: data, offset: offset, fin: fin}
}

func (f *streamFrame) typ() uint64 {
	typ := uint64(frameTypeStream)
	if f.offset != 0 {
		typ |= 0x04
	}
	typ |= 0x02 // always include an explicit LEN so frames can be coalesced
	if f.fin {
		typ |= 0x01
	}
	return typ
}

func (f *streamFrame) encodedLen() int {
	n := varintLen(f.typ()) + varintLen(f.streamID)
	if f.offset != 0 {
		n += varintLen(f.offset)
	}
	n += varintLen(uint64(len(f.data)))
	n += len(f.data)
	return n
}

func (f *streamFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	off := 0
	off += putVarint(b[off:], f.typ())
	off += putVarint(b[off:], f.streamID)
	if f.offset != 0 {
		off += putVarint(b[off:], f.offset)
	}
	off += putVarint(b[off:], uint64(len(f.data)))
	off += copy(b[off:], f.data)
	return off, nil
}

func (f *streamFrame) decode(b []byte) (int, error) {
	off := 0
	var typ uint64
	n := getVarint(b[off:], &typ)
	if n == 0 || typ < frameTypeStream || typ > frameTypeStreamEnd {
		return 0, errMalformedFrame
	}
	off += n
	if n = getVarint(b[off:], &f.streamID); n == 0 {
		return 0, errMalformedFrame
	}
	off += n
	f.offset = 0
	if typ&0x04 != 0 {
		if n = getVarint(b[off:], &f.offset); n == 0 {
			return 0, errMalformedFrame
		}
		off += n
	}
	var length uint64
	if typ&0x02 != 0 {
		if n = getVarint(b[off:], &length); n == 0 {
			return 0, errMalformedFrame
		}
		off += n
	} else {
		length = uint64(len(b) - off)
	}
	if uint64(len(b)-off) < length {
		return 0, errMalformedFrame
	}
	f.data = b[off : off+int(length)]
	off += int(length)
	f.fin = typ&0x01 != 0
	return off, nil
}

func (f *streamFrame) String() string {
	return fmt.Sprintf("frame_type=stream stream_id=%d offset=%d length=%d fin=%v",
		f.streamID, f.offset, len(f.data), f.fin)
}

// maxStreamFrameOverhead bounds the non-data portion of a STREAM frame
// (type + stream id + offset + length varints), used by the send scheduler
// when deciding how many bytes of stream data will fit in the remaining
// packet budget.
const maxStreamFrameOverhead = 1 + 8 + 8 + 8
