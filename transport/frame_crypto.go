package transport

import "fmt"

// cryptoFrame carries TLS handshake bytes (RFC 9000 Section 19.6).
type cryptoFrame struct {
	offset uint64
	data   []byte
}

func newCryptoFrame(data []byte, offset uint64) *cryptoFrame {
	return &cryptoFrame{data: data, offset: offset}
}

func (f *cryptoFrame) encodedLen() int {
	return varintLen(frameTypeCrypto) + varintLen(f.offset) + varintLen(uint64(len(f.data))) + len(f.data)
}

func (f *cryptoFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	off := 0
	off += putVarint(b[off:], frameTypeCrypto)
	off += putVarint(b[off:], f.offset)
	off += putVarint(b[off:], uint64(len(f.data)))
	off += copy(b[off:], f.data)
	return off, nil
}

func (f *cryptoFrame) decode(b []byte) (int, error) {
	off := 0
	var typ uint64
	n := getVarint(b[off:], &typ)
	if n == 0 || typ != frameTypeCrypto {
		return 0, errMalformedFrame
	}
	off += n
	if n = getVarint(b[off:], &f.offset); n == 0 {
		return 0, errMalformedFrame
	}
	off += n
	var length uint64
	if n = getVarint(b[off:], &length); n == 0 {
		return 0, errMalformedFrame
	}
	off += n
	if uint64(len(b)-off) < length {
		return 0, errMalformedFrame
	}
	f.data = b[off : off+int(length)]
	off += int(length)
	return off, nil
}

func (f *cryptoFrame) String() string {
	return fmt.Sprintf("frame_type=crypto offset=%d length=%d", f.offset, len(f.data))
}

// maxCryptoFrameOverhead bounds the non-data portion of a CRYPTO frame.
const maxCryptoFrameOverhead = 1 + 8 + 8

// newTokenFrame carries a server-issued token (RFC 9000 Section 19.7). This
// package encodes, decodes and logs it but never sends one.
type newTokenFrame struct {
	token []byte
}

func newNewTokenFrame(token []byte) *newTokenFrame {
	return &newTokenFrame{token: token}
}

func (f *newTokenFrame) encodedLen() int {
	return varintLen(frameTypeNewToken) + varintLen(uint64(len(f.token))) + len(f.token)
}

func (f *newTokenFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	off := 0
	off += putVarint(b[off:], frameTypeNewToken)
	off += putVarint(b[off:], uint64(len(f.token)))
	off += copy(b[off:], f.token)
	return off, nil
}

func (f *newTokenFrame) decode(b []byte) (int, error) {
	off := 0
	var typ uint64
	n := getVarint(b[off:], &typ)
	if n == 0 || typ != frameTypeNewToken {
		return 0, errMalformedFrame
	}
	off += n
	var length uint64
	if n = getVarint(b[off:], &length); n == 0 {
		return 0, errMalformedFrame
	}
	off += n
	if length == 0 || uint64(len(b)-off) < length {
		return 0, errMalformedFrame
	}
	f.token = b[off : off+int(length)]
	off += int(length)
	return off, nil
}

func (f *newTokenFrame) String() string {
	return fmt.Sprintf("frame_type=new_token token=%x", f.token)
}
