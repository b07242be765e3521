package transport

import "sort"

// recvStreamState is the receive-side state machine, RFC 9000 Section 3.2.
type recvStreamState int

const (
	recvStreamRecv recvStreamState = iota
	recvStreamSizeKnown
	recvStreamDataRecvd
	recvStreamDataRead
	recvStreamResetRecvd
	recvStreamResetRead
)

// recvChunk is one contiguous out-of-order STREAM frame payload, buffered
// until it can be delivered in order.
type recvChunk struct {
	offset uint64
	data   []byte
}

// recvBuffer reassembles a byte stream from out-of-order STREAM frame
// deliveries, spec.md §4.8.
type recvBuffer struct {
	readOff uint64 // bytes already delivered to the application, contiguous from 0
	chunks  []recvChunk
	finalSize uint64
	finalSizeKnown bool
}

// insert records a chunk of newly-received data (deduplicating against what's
// already been read or buffered) and reports the highest offset now known to
// be received, for flow-control accounting.
func (b *recvBuffer) insert(offset uint64, data []byte, fin bool) (highWatermark uint64, err error) {
	end := offset + uint64(len(data))
	if fin {
		if b.finalSizeKnown && b.finalSize != end {
			return 0, newError(FinalSizeError, "inconsistent final size")
		}
		b.finalSizeKnown = true
		b.finalSize = end
	}
	if b.finalSizeKnown && end > b.finalSize {
		return 0, newError(FinalSizeError, "data beyond final size")
	}
	if end <= b.readOff {
		return b.highWatermark(), nil // fully duplicate
	}
	if offset < b.readOff {
		data = data[b.readOff-offset:]
		offset = b.readOff
	}
	if len(data) > 0 {
		b.chunks = append(b.chunks, recvChunk{offset: offset, data: data})
		sort.Slice(b.chunks, func(i, j int) bool { return b.chunks[i].offset < b.chunks[j].offset })
		b.coalesce()
	}
	return b.highWatermark(), nil
}

// coalesce merges overlapping/adjacent buffered chunks to bound memory use
// to roughly the reordering window rather than per-frame fragments.
func (b *recvBuffer) coalesce() {
	if len(b.chunks) < 2 {
		return
	}
	out := b.chunks[:1]
	for _, c := range b.chunks[1:] {
		last := &out[len(out)-1]
		lastEnd := last.offset + uint64(len(last.data))
		if c.offset > lastEnd {
			out = append(out, c)
			continue
		}
		cEnd := c.offset + uint64(len(c.data))
		if cEnd <= lastEnd {
			continue // fully contained
		}
		last.data = append(last.data, c.data[lastEnd-c.offset:]...)
	}
	b.chunks = out
}

func (b *recvBuffer) highWatermark() uint64 {
	max := b.readOff
	for _, c := range b.chunks {
		if end := c.offset + uint64(len(c.data)); end > max {
			max = end
		}
	}
	return max
}

// read delivers in-order bytes into p, returning the number read and whether
// the stream has ended (FIN reached with no more buffered data).
func (b *recvBuffer) read(p []byte) (n int, fin bool) {
	if len(b.chunks) == 0 || b.chunks[0].offset != b.readOff {
		if b.finalSizeKnown && b.readOff >= b.finalSize {
			return 0, true
		}
		return 0, false
	}
	c := &b.chunks[0]
	n = copy(p, c.data)
	c.data = c.data[n:]
	c.offset += uint64(n)
	b.readOff += uint64(n)
	if len(c.data) == 0 {
		b.chunks = b.chunks[1:]
	}
	fin = b.finalSizeKnown && b.readOff >= b.finalSize
	return n, fin
}

// recvStream is the receive half of one stream.
type recvStream struct {
	id    uint64
	state recvStreamState
	buf   recvBuffer
	fc    flowController

	resetCode uint64
	finalSize uint64
}

func (s *recvStream) init(id uint64, localMaxStreamData uint64) {
	s.id = id
	s.state = recvStreamRecv
	s.fc.init(localMaxStreamData, 0)
}

// onStreamFrame applies an incoming STREAM frame's payload, returning the
// newly-implied highest byte offset (for connection-level flow-control
// accounting) and any protocol error.
func (s *recvStream) onStreamFrame(f *streamFrame) (uint64, error) {
	if s.state == recvStreamResetRecvd || s.state == recvStreamResetRead {
		return 0, nil
	}
	end := f.offset + uint64(len(f.data))
	if !s.fc.canRecv(end) {
		return 0, errFlowControl
	}
	hw, err := s.buf.insert(f.offset, f.data, f.fin)
	if err != nil {
		return 0, err
	}
	if f.fin {
		s.finalSize = end
		if s.state == recvStreamRecv {
			s.state = recvStreamSizeKnown
		}
	}
	if err := s.fc.addRecv(hw); err != nil {
		return 0, err
	}
	return hw, nil
}

// onResetStream applies an incoming RESET_STREAM frame, RFC 9000 Section 3.2.
func (s *recvStream) onResetStream(f *resetStreamFrame) error {
	if !s.fc.canRecv(f.finalSize) {
		return errFlowControl
	}
	if s.state == recvStreamSizeKnown && s.finalSize != f.finalSize {
		return newError(FinalSizeError, "reset final size mismatch")
	}
	s.resetCode = f.errorCode
	s.finalSize = f.finalSize
	if s.state != recvStreamResetRecvd && s.state != recvStreamResetRead {
		s.state = recvStreamResetRecvd
	}
	return nil
}

func (s *recvStream) read(p []byte) (int, bool, error) {
	if s.state == recvStreamResetRecvd {
		s.state = recvStreamResetRead
		return 0, true, newAppError(s.resetCode, "stream reset by peer")
	}
	n, fin := s.buf.read(p)
	if fin && s.state == recvStreamSizeKnown {
		s.state = recvStreamDataRead
	}
	return n, fin, nil
}
