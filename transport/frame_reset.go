package transport

import "fmt"

// resetStreamFrame is RESET_STREAM (RFC 9000 Section 19.4).
type resetStreamFrame struct {
	streamID  uint64
	errorCode uint64
	finalSize uint64
}

func newResetStreamFrame(id, errorCode, finalSize uint64) *resetStreamFrame {
	return &resetStreamFrame{streamID: id, errorCode: errorCode, finalSize: finalSize}
}

func (f *resetStreamFrame) encodedLen() int {
	return varintLen(frameTypeResetStream) + varintLen(f.streamID) + varintLen(f.errorCode) + varintLen(f.finalSize)
}

func (f *resetStreamFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	off := 0
	off += putVarint(b[off:], frameTypeResetStream)
	off += putVarint(b[off:], f.streamID)
	off += putVarint(b[off:], f.errorCode)
	off += putVarint(b[off:], f.finalSize)
	return off, nil
}

func (f *resetStreamFrame) decode(b []byte) (int, error) {
	off := 0
	var typ uint64
	n := getVarint(b[off:], &typ)
	if n == 0 || typ != frameTypeResetStream {
		return 0, errMalformedFrame
	}
	off += n
	for _, v := range []*uint64{&f.streamID, &f.errorCode, &f.finalSize} {
		if n = getVarint(b[off:], v); n == 0 {
			return 0, errMalformedFrame
		}
		off += n
	}
	return off, nil
}

func (f *resetStreamFrame) String() string {
	return fmt.Sprintf("frame_type=reset_stream stream_id=%d error_code=%d final_size=%d",
		f.streamID, f.errorCode, f.finalSize)
}

// stopSendingFrame is STOP_SENDING (RFC 9000 Section 19.5).
type stopSendingFrame struct {
	streamID  uint64
	errorCode uint64
}

func newStopSendingFrame(id, errorCode uint64) *stopSendingFrame {
	return &stopSendingFrame{streamID: id, errorCode: errorCode}
}

func (f *stopSendingFrame) encodedLen() int {
	return varintLen(frameTypeStopSending) + varintLen(f.streamID) + varintLen(f.errorCode)
}

func (f *stopSendingFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	off := 0
	off += putVarint(b[off:], frameTypeStopSending)
	off += putVarint(b[off:], f.streamID)
	off += putVarint(b[off:], f.errorCode)
	return off, nil
}

func (f *stopSendingFrame) decode(b []byte) (int, error) {
	off := 0
	var typ uint64
	n := getVarint(b[off:], &typ)
	if n == 0 || typ != frameTypeStopSending {
		return 0, errMalformedFrame
	}
	off += n
	for _, v := range []*uint64{&f.streamID, &f.errorCode} {
		if n = getVarint(b[off:], v); n == 0 {
			return 0, errMalformedFrame
		}
		off += n
	}
	return off, nil
}

func (f *stopSendingFrame) String() string {
	return fmt.Sprintf("frame_type=stop_sending stream_id=%d error_code=%d", f.streamID, f.errorCode)
}
