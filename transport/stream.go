package transport

// Stream ID low two bits encode initiator and directionality, RFC 9000
// Section 2.1.
const (
	streamIDClientBidi = 0x0
	streamIDServerBidi = 0x1
	streamIDClientUni  = 0x2
	streamIDServerUni  = 0x3
)

func isStreamIDLocal(id uint64, isClient bool) bool {
	initiator := id & 0x1
	return (initiator == 0) == isClient
}

func isStreamIDBidi(id uint64) bool {
	return id&0x2 == 0
}

// Stream is the application-facing handle for one QUIC stream, spec.md §4.8.
// A unidirectional stream has only a send or only a recv half populated.
type Stream struct {
	id   uint64
	send *sendStream
	recv *recvStream
}

// Write queues data for transmission. Returns an error once the stream (or
// connection) is no longer writable.
func (s *Stream) Write(p []byte) (int, error) {
	if s.send == nil {
		return 0, newError(StreamStateError, "stream is not writable (uni, peer-initiated)")
	}
	return s.send.write(p)
}

// Close signals no more data will be written (sends FIN).
func (s *Stream) Close() error {
	if s.send == nil {
		return newError(StreamStateError, "stream is not writable (uni, peer-initiated)")
	}
	s.send.close()
	return nil
}

// Read delivers received data in order; returns (0, io.EOF)-equivalent via
// the fin bool once the stream has ended and all data has been read.
func (s *Stream) Read(p []byte) (n int, fin bool, err error) {
	if s.recv == nil {
		return 0, true, newError(StreamStateError, "stream is not readable (uni, self-initiated)")
	}
	return s.recv.read(p)
}

// Reset abandons the send side, RFC 9000 Section 3.3.
func (s *Stream) Reset(errorCode uint64) *resetStreamFrame {
	if s.send == nil {
		return nil
	}
	return s.send.reset(errorCode)
}

// StopSending requests the peer abandon sending on this stream, RFC 9000
// Section 3.5.
func (s *Stream) StopSending(errorCode uint64) *stopSendingFrame {
	if s.recv == nil {
		return nil
	}
	return newStopSendingFrame(s.id, errorCode)
}

// ID returns the QUIC stream identifier.
func (s *Stream) ID() uint64 { return s.id }

func (s *Stream) isBidi() bool { return isStreamIDBidi(s.id) }

func (s *Stream) hasFlushable() bool {
	return s.send != nil && s.send.hasFlushable()
}
