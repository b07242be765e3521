package transport

// sendStreamState is the send-side state machine, RFC 9000 Section 3.1.
type sendStreamState int

const (
	sendStreamReady sendStreamState = iota
	sendStreamSend
	sendStreamDataSent
	sendStreamDataRecvd
	sendStreamResetSent
	sendStreamResetRecvd
)

// sendBuffer is an unacknowledged-aware outgoing byte buffer: data is
// appended once by the application, and a [sent, acked) high-water mark
// tracks how much of it has been transmitted vs. confirmed, spec.md §4.8.
type sendBuffer struct {
	data      []byte // all bytes ever queued, offset 0 = data[0]
	sentOff   uint64 // bytes already placed into at least one STREAM frame
	ackedOff  uint64 // bytes confirmed acked (contiguous prefix)
	finSet    bool
	finSent   bool
	finOffset uint64
}

func (b *sendBuffer) write(p []byte) {
	b.data = append(b.data, p...)
}

func (b *sendBuffer) setFin() {
	b.finSet = true
	b.finOffset = uint64(len(b.data))
}

// pending returns the next chunk of never-yet-sent data, up to maxLen bytes.
func (b *sendBuffer) pending(maxLen int) (data []byte, offset uint64, fin bool) {
	avail := uint64(len(b.data)) - b.sentOff
	n := avail
	if maxLen >= 0 && n > uint64(maxLen) {
		n = uint64(maxLen)
	}
	data = b.data[b.sentOff : b.sentOff+n]
	offset = b.sentOff
	fin = b.finSet && b.sentOff+n == b.finOffset
	return data, offset, fin
}

func (b *sendBuffer) markSent(offset uint64, n int, fin bool) {
	if offset+uint64(n) > b.sentOff {
		b.sentOff = offset + uint64(n)
	}
	if fin {
		b.finSent = true
	}
}

// markAcked advances the acked high-water mark; out-of-order acked ranges
// (from reordered ACKs acking a later retransmission first) are tolerated by
// only ever moving forward from contiguous coverage starting at 0, which is
// sufficient because retransmission always resends from ackedOff onward.
func (b *sendBuffer) markAcked(offset uint64, n int) {
	if offset <= b.ackedOff && offset+uint64(n) > b.ackedOff {
		b.ackedOff = offset + uint64(n)
	}
}

// retransmit rewinds sentOff to the acked high-water mark so the data
// between ackedOff and the old sentOff is resent, spec.md §4.8 loss handling.
func (b *sendBuffer) retransmit() {
	b.sentOff = b.ackedOff
}

func (b *sendBuffer) fullyAcked() bool {
	return b.finSet && b.ackedOff >= b.finOffset
}

// sendStream is the send half of one stream.
type sendStream struct {
	id    uint64
	state sendStreamState
	buf   sendBuffer
	fc    flowController

	resetCode uint64
	blocked   bool
}

func (s *sendStream) init(id uint64, peerMaxStreamData uint64) {
	s.id = id
	s.state = sendStreamReady
	s.fc.init(0, peerMaxStreamData)
}

// write queues application data; spec.md §4.8's send() operation.
func (s *sendStream) write(p []byte) (int, error) {
	if s.state != sendStreamReady && s.state != sendStreamSend {
		return 0, newError(StreamStateError, "write on closed send stream")
	}
	if s.state == sendStreamReady {
		s.state = sendStreamSend
	}
	newTotal := uint64(len(s.buf.data)) + uint64(len(p))
	if !s.fc.canSend(newTotal) {
		return 0, errFlowControl
	}
	s.buf.write(p)
	return len(p), nil
}

func (s *sendStream) close() {
	if s.state == sendStreamReady || s.state == sendStreamSend {
		s.buf.setFin()
		s.state = sendStreamDataSent
	}
}

// reset aborts the stream, RFC 9000 Section 3.3.
func (s *sendStream) reset(errorCode uint64) *resetStreamFrame {
	if s.state == sendStreamDataRecvd || s.state == sendStreamResetSent || s.state == sendStreamResetRecvd {
		return nil
	}
	s.resetCode = errorCode
	s.state = sendStreamResetSent
	finalSize := uint64(len(s.buf.data))
	return newResetStreamFrame(s.id, errorCode, finalSize)
}

// hasFlushable reports whether there is data or a FIN ready to send.
func (s *sendStream) hasFlushable() bool {
	if s.state == sendStreamResetSent {
		return false
	}
	data, _, fin := s.buf.pending(-1)
	return len(data) > 0 || (fin && !s.buf.finSent)
}

func (s *sendStream) onAcked(offset uint64, n int, fin bool) {
	s.buf.markAcked(offset, n)
	if s.buf.fullyAcked() {
		s.state = sendStreamDataRecvd
	}
}

func (s *sendStream) onLost(offset uint64, n int) {
	if offset < s.buf.sentOff {
		s.buf.sentOff = offset
	}
}
