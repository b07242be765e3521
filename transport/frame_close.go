package transport

import "fmt"

// connectionCloseFrame is CONNECTION_CLOSE, either transport (type 0x1c) or
// application (type 0x1d) flavor (RFC 9000 Section 19.19).
type connectionCloseFrame struct {
	application      bool
	errorCode        uint64
	triggerFrameType uint64 // transport flavor only
	reasonPhrase     []byte
}

func newConnectionCloseFrame(errorCode uint64, triggerFrameType uint64, reason []byte, application bool) *connectionCloseFrame {
	return &connectionCloseFrame{
		application:      application,
		errorCode:        errorCode,
		triggerFrameType: triggerFrameType,
		reasonPhrase:     reason,
	}
}

func (f *connectionCloseFrame) typ() uint64 {
	if f.application {
		return frameTypeApplicationClose
	}
	return frameTypeConnectionClose
}

func (f *connectionCloseFrame) encodedLen() int {
	n := varintLen(f.typ()) + varintLen(f.errorCode)
	if !f.application {
		n += varintLen(f.triggerFrameType)
	}
	n += varintLen(uint64(len(f.reasonPhrase))) + len(f.reasonPhrase)
	return n
}

func (f *connectionCloseFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	off := putVarint(b, f.typ())
	off += putVarint(b[off:], f.errorCode)
	if !f.application {
		off += putVarint(b[off:], f.triggerFrameType)
	}
	off += putVarint(b[off:], uint64(len(f.reasonPhrase)))
	off += copy(b[off:], f.reasonPhrase)
	return off, nil
}

func (f *connectionCloseFrame) decode(b []byte) (int, error) {
	var typ uint64
	n := getVarint(b, &typ)
	if n == 0 || (typ != frameTypeConnectionClose && typ != frameTypeApplicationClose) {
		return 0, errMalformedFrame
	}
	f.application = typ == frameTypeApplicationClose
	off := n
	if n = getVarint(b[off:], &f.errorCode); n == 0 {
		return 0, errMalformedFrame
	}
	off += n
	if !f.application {
		if n = getVarint(b[off:], &f.triggerFrameType); n == 0 {
			return 0, errMalformedFrame
		}
		off += n
	}
	var length uint64
	if n = getVarint(b[off:], &length); n == 0 {
		return 0, errMalformedFrame
	}
	off += n
	if uint64(len(b)-off) < length {
		return 0, errMalformedFrame
	}
	f.reasonPhrase = append([]byte(nil), b[off:off+int(length)]...)
	off += int(length)
	return off, nil
}

func (f *connectionCloseFrame) String() string {
	space := "transport"
	if f.application {
		space = "application"
	}
	return fmt.Sprintf("frame_type=connection_close error_space=%s error_code=%s raw_error_code=%d reason=%s trigger_frame_type=%d",
		space, errorCodeString(ErrorCode(f.errorCode)), f.errorCode, f.reasonPhrase, f.triggerFrameType)
}

// handshakeDoneFrame is HANDSHAKE_DONE (RFC 9000 Section 19.20). Sent only by
// the server, once, after the handshake completes.
type handshakeDoneFrame struct{}

func (f *handshakeDoneFrame) encodedLen() int { return varintLen(frameTypeHanshakeDone) }

func (f *handshakeDoneFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	return putVarint(b, frameTypeHanshakeDone), nil
}

func (f *handshakeDoneFrame) decode(b []byte) (int, error) {
	var typ uint64
	n := getVarint(b, &typ)
	if n == 0 || typ != frameTypeHanshakeDone {
		return 0, errMalformedFrame
	}
	return n, nil
}

func (f *handshakeDoneFrame) String() string { return "frame_type=handshake_done" }
