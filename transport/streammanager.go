package transport

// streamManager owns every stream on a connection: allocation of
// locally-initiated IDs, admission of peer-initiated ones against the
// concurrency limits, and the connection-wide flow-control accounting that
// spans all streams, spec.md §4.8.
type streamManager struct {
	isClient bool
	streams  map[uint64]*Stream

	nextBidi uint64 // next locally-initiated bidi stream ID to hand out
	nextUni  uint64

	// Peer-advertised concurrency limits (MAX_STREAMS received).
	peerMaxStreamsBidi uint64
	peerMaxStreamsUni  uint64
	// Locally-advertised concurrency limits (MAX_STREAMS sent).
	localMaxStreamsBidi uint64
	localMaxStreamsUni  uint64

	openedBidi uint64 // count of peer-initiated bidi streams admitted
	openedUni  uint64

	localInitialMaxStreamDataBidiLocal  uint64
	localInitialMaxStreamDataBidiRemote uint64
	localInitialMaxStreamDataUni        uint64
	peerInitialMaxStreamDataBidiLocal   uint64
	peerInitialMaxStreamDataBidiRemote  uint64
	peerInitialMaxStreamDataUni         uint64

	flushable []uint64 // not filled; flushableStreams scans streams instead
}

func newStreamManager(isClient bool) *streamManager {
	sm := &streamManager{isClient: isClient, streams: make(map[uint64]*Stream)}
	if isClient {
		sm.nextBidi = streamIDClientBidi
		sm.nextUni = streamIDClientUni
	} else {
		sm.nextBidi = streamIDServerBidi
		sm.nextUni = streamIDServerUni
	}
	return sm
}

func (sm *streamManager) applyLocalParams(p *transportParameters) {
	sm.localMaxStreamsBidi = p.initialMaxStreamsBidi
	sm.localMaxStreamsUni = p.initialMaxStreamsUni
	sm.localInitialMaxStreamDataBidiLocal = p.initialMaxStreamDataBidiLocal
	sm.localInitialMaxStreamDataBidiRemote = p.initialMaxStreamDataBidiRemote
	sm.localInitialMaxStreamDataUni = p.initialMaxStreamDataUni
}

func (sm *streamManager) applyPeerParams(p *transportParameters) {
	sm.peerMaxStreamsBidi = p.initialMaxStreamsBidi
	sm.peerMaxStreamsUni = p.initialMaxStreamsUni
	sm.peerInitialMaxStreamDataBidiLocal = p.initialMaxStreamDataBidiLocal
	sm.peerInitialMaxStreamDataBidiRemote = p.initialMaxStreamDataBidiRemote
	sm.peerInitialMaxStreamDataUni = p.initialMaxStreamDataUni
}

// create opens a new locally-initiated stream, spec.md §4.8's make_stream.
func (sm *streamManager) create(bidi bool) (*Stream, error) {
	if bidi {
		if sm.countLocal(true) >= sm.peerMaxStreamsBidi {
			return nil, newError(StreamLimitError, "bidi stream limit reached")
		}
		id := sm.nextBidi
		sm.nextBidi += 4
		return sm.newLocalStream(id, true), nil
	}
	if sm.countLocal(false) >= sm.peerMaxStreamsUni {
		return nil, newError(StreamLimitError, "uni stream limit reached")
	}
	id := sm.nextUni
	sm.nextUni += 4
	return sm.newLocalStream(id, false), nil
}

func (sm *streamManager) countLocal(bidi bool) uint64 {
	var base uint64
	if bidi {
		base = streamIDClientBidi
		if !sm.isClient {
			base = streamIDServerBidi
		}
	} else {
		base = streamIDClientUni
		if !sm.isClient {
			base = streamIDServerUni
		}
	}
	var next uint64
	if bidi {
		next = sm.nextBidi
	} else {
		next = sm.nextUni
	}
	return (next - base) / 4
}

func (sm *streamManager) newLocalStream(id uint64, bidi bool) *Stream {
	s := &Stream{id: id}
	peerCredit := sm.peerInitialMaxStreamDataUni
	if bidi {
		peerCredit = sm.peerInitialMaxStreamDataBidiRemote
	}
	send := &sendStream{}
	send.init(id, peerCredit)
	s.send = send
	if bidi {
		localCredit := sm.localInitialMaxStreamDataBidiLocal
		recv := &recvStream{}
		recv.init(id, localCredit)
		s.recv = recv
	}
	sm.streams[id] = s
	return s
}

// getOrCreatePeerStream admits a peer-initiated stream referenced by an
// incoming frame, enforcing the local concurrency limit, RFC 9000
// Section 4.6.
func (sm *streamManager) getOrCreatePeerStream(id uint64) (*Stream, error) {
	if s, ok := sm.streams[id]; ok {
		return s, nil
	}
	if isStreamIDLocal(id, sm.isClient) {
		return nil, newError(StreamStateError, "frame references a locally-initiated stream never created")
	}
	bidi := isStreamIDBidi(id)
	base := uint64(streamIDServerBidi)
	if !bidi {
		base = streamIDServerUni
	}
	if !sm.isClient {
		if bidi {
			base = streamIDClientBidi
		} else {
			base = streamIDClientUni
		}
	}
	index := (id - base) / 4
	limit := sm.localMaxStreamsUni
	if bidi {
		limit = sm.localMaxStreamsBidi
	}
	if index >= limit {
		return nil, newError(StreamLimitError, "peer exceeded stream concurrency limit")
	}
	// Opening stream N implicitly opens every lower-numbered stream of the
	// same type, RFC 9000 Section 2.1.
	for i := sm.peerStreamCount(bidi); i <= index; i++ {
		sid := base + i*4
		if _, ok := sm.streams[sid]; ok {
			continue
		}
		sm.newPeerStream(sid, bidi)
	}
	if bidi {
		sm.openedBidi = index + 1
	} else {
		sm.openedUni = index + 1
	}
	return sm.streams[id], nil
}

func (sm *streamManager) peerStreamCount(bidi bool) uint64 {
	if bidi {
		return sm.openedBidi
	}
	return sm.openedUni
}

func (sm *streamManager) newPeerStream(id uint64, bidi bool) *Stream {
	s := &Stream{id: id}
	localCredit := sm.localInitialMaxStreamDataUni
	if bidi {
		localCredit = sm.localInitialMaxStreamDataBidiRemote
	}
	recv := &recvStream{}
	recv.init(id, localCredit)
	s.recv = recv
	if bidi {
		send := &sendStream{}
		send.init(id, sm.peerInitialMaxStreamDataBidiLocal)
		s.send = send
	}
	sm.streams[id] = s
	return s
}

func (sm *streamManager) get(id uint64) (*Stream, bool) {
	s, ok := sm.streams[id]
	return s, ok
}

func (sm *streamManager) setPeerMaxStreamsBidi(n uint64) {
	if n > sm.peerMaxStreamsBidi {
		sm.peerMaxStreamsBidi = n
	}
}

func (sm *streamManager) setPeerMaxStreamsUni(n uint64) {
	if n > sm.peerMaxStreamsUni {
		sm.peerMaxStreamsUni = n
	}
}

// hasFlushable reports whether any stream has pending send work.
func (sm *streamManager) hasFlushable() bool {
	for _, s := range sm.streams {
		if s.hasFlushable() {
			return true
		}
	}
	return false
}

// flushableStreams returns, in ascending stream-ID order, every stream with
// pending send work. collectFrames takes each stream's pending data before
// moving to the next, so lower-numbered streams are served first; there is
// no rotation between packets and no weighting by send credit.
func (sm *streamManager) flushableStreams() []*Stream {
	var out []*Stream
	for _, s := range sm.streams {
		if s.hasFlushable() {
			out = append(out, s)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].id > out[j].id; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
