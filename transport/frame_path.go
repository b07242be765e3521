package transport

import "fmt"

// pathChallengeFrame is PATH_CHALLENGE (RFC 9000 Section 19.17).
type pathChallengeFrame struct {
	data [8]byte
}

func newPathChallengeFrame(data [8]byte) *pathChallengeFrame {
	return &pathChallengeFrame{data: data}
}

func (f *pathChallengeFrame) encodedLen() int { return varintLen(frameTypePathChallenge) + 8 }

func (f *pathChallengeFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	off := putVarint(b, frameTypePathChallenge)
	off += copy(b[off:], f.data[:])
	return off, nil
}

func (f *pathChallengeFrame) decode(b []byte) (int, error) {
	var typ uint64
	n := getVarint(b, &typ)
	if n == 0 || typ != frameTypePathChallenge {
		return 0, errMalformedFrame
	}
	off := n
	if len(b)-off < 8 {
		return 0, errMalformedFrame
	}
	copy(f.data[:], b[off:off+8])
	return off + 8, nil
}

func (f *pathChallengeFrame) String() string {
	return fmt.Sprintf("frame_type=path_challenge data=%x", f.data)
}

// pathResponseFrame is PATH_RESPONSE (RFC 9000 Section 19.18).
type pathResponseFrame struct {
	data [8]byte
}

func newPathResponseFrame(data [8]byte) *pathResponseFrame {
	return &pathResponseFrame{data: data}
}

func (f *pathResponseFrame) encodedLen() int { return varintLen(frameTypePathResponse) + 8 }

func (f *pathResponseFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	off := putVarint(b, frameTypePathResponse)
	off += copy(b[off:], f.data[:])
	return off, nil
}

func (f *pathResponseFrame) decode(b []byte) (int, error) {
	var typ uint64
	n := getVarint(b, &typ)
	if n == 0 || typ != frameTypePathResponse {
		return 0, errMalformedFrame
	}
	off := n
	if len(b)-off < 8 {
		return 0, errMalformedFrame
	}
	copy(f.data[:], b[off:off+8])
	return off + 8, nil
}

func (f *pathResponseFrame) String() string {
	return fmt.Sprintf("frame_type=path_response data=%x", f.data)
}
