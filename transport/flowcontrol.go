package transport

// flowController tracks one direction's send or receive credit against a
// single MAX_DATA/MAX_STREAM_DATA-style limit, spec.md §4.7. The same shape
// backs both the connection-level and per-stream controllers; which frame
// type it emits when the limit needs raising is the caller's concern, not
// this type's.
type flowController struct {
	// recv side: bytes we allow the peer to send us.
	maxRecv      uint64 // current advertised limit
	recvd        uint64 // bytes received so far (post-dedup)
	maxRecvNext  uint64 // next limit to advertise once consumed enough

	// send side: bytes the peer allows us to send it.
	maxSend uint64
	sent    uint64

	blocked bool // we've sent DATA_BLOCKED / STREAM_DATA_BLOCKED at maxSend
}

func (f *flowController) init(initialMaxRecv, initialMaxSend uint64) {
	f.maxRecv = initialMaxRecv
	f.maxRecvNext = initialMaxRecv
	f.maxSend = initialMaxSend
}

// canRecv reports whether data ending at finalOffset stays within the
// advertised limit.
func (f *flowController) canRecv(finalOffset uint64) bool {
	return finalOffset <= f.maxRecv
}

// addRecv records newly-received bytes (the caller is responsible for
// deduplicating overlapping STREAM/CRYPTO offsets before calling this), and
// reports a flow-control violation if the peer exceeded our limit.
func (f *flowController) addRecv(newTotal uint64) error {
	if newTotal > f.maxRecv {
		return errFlowControl
	}
	if newTotal > f.recvd {
		f.recvd = newTotal
	}
	return nil
}

// shouldUpdateMaxRecv reports whether enough of the current window has been
// consumed to justify sending a new MAX_DATA/MAX_STREAM_DATA, RFC 9000
// Section 4.1: once half the window is consumed.
func (f *flowController) shouldUpdateMaxRecv() bool {
	consumed := f.recvd
	window := f.maxRecv
	return consumed*2 >= window
}

// commitMaxRecv raises the advertised receive limit by one window's worth
// and returns the new value to send in a MAX_DATA/MAX_STREAM_DATA frame.
func (f *flowController) commitMaxRecv(windowSize uint64) uint64 {
	f.maxRecv += windowSize
	f.maxRecvNext = f.maxRecv
	return f.maxRecv
}

// canSend reports whether newTotal (cumulative bytes sent including the
// pending write) fits under the peer's advertised limit.
func (f *flowController) canSend(newTotal uint64) bool {
	return newTotal <= f.maxSend
}

// availableToSend returns how many more bytes may be sent right now.
func (f *flowController) availableToSend() uint64 {
	if f.sent >= f.maxSend {
		return 0
	}
	return f.maxSend - f.sent
}

// addSend records bytes actually placed in an outgoing STREAM/CRYPTO frame.
func (f *flowController) addSend(n uint64) {
	f.sent += n
}

// setMaxSend applies a peer-advertised MAX_DATA/MAX_STREAM_DATA update,
// RFC 9000 Section 4.1: only ever raises the limit, never lowers it.
func (f *flowController) setMaxSend(limit uint64) {
	if limit > f.maxSend {
		f.maxSend = limit
		f.blocked = false
	}
}

// isBlocked reports whether the send side is currently at its limit, i.e.
// whether a DATA_BLOCKED/STREAM_DATA_BLOCKED is due.
func (f *flowController) isBlocked() bool {
	return f.sent >= f.maxSend
}

func (f *flowController) markBlocked() bool {
	if f.blocked {
		return false
	}
	f.blocked = true
	return true
}

// connFlowControl composes the connection-wide send/recv credit windows,
// spec.md §4.7.
type connFlowControl struct {
	flowController
}

func newConnFlowControl(initialMaxRecv, initialMaxSend uint64) *connFlowControl {
	c := &connFlowControl{}
	c.init(initialMaxRecv, initialMaxSend)
	return c
}
