package transport

import (
	"encoding/hex"
	"fmt"
)

// newConnectionIDFrame is NEW_CONNECTION_ID (RFC 9000 Section 19.15).
type newConnectionIDFrame struct {
	sequenceNumber uint64
	retirePriorTo  uint64
	connectionID   []byte
	resetToken     [16]byte
}

func (f *newConnectionIDFrame) encodedLen() int {
	return varintLen(frameTypeNewConnectionID) + varintLen(f.sequenceNumber) + varintLen(f.retirePriorTo) +
		1 + len(f.connectionID) + 16
}

func (f *newConnectionIDFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	off := putVarint(b, frameTypeNewConnectionID)
	off += putVarint(b[off:], f.sequenceNumber)
	off += putVarint(b[off:], f.retirePriorTo)
	b[off] = byte(len(f.connectionID))
	off++
	off += copy(b[off:], f.connectionID)
	off += copy(b[off:], f.resetToken[:])
	return off, nil
}

func (f *newConnectionIDFrame) decode(b []byte) (int, error) {
	var typ uint64
	n := getVarint(b, &typ)
	if n == 0 || typ != frameTypeNewConnectionID {
		return 0, errMalformedFrame
	}
	off := n
	for _, v := range []*uint64{&f.sequenceNumber, &f.retirePriorTo} {
		if n = getVarint(b[off:], v); n == 0 {
			return 0, errMalformedFrame
		}
		off += n
	}
	if off >= len(b) {
		return 0, errMalformedFrame
	}
	cidLen := int(b[off])
	off++
	if cidLen > MaxCIDLength || len(b)-off < cidLen+16 {
		return 0, errMalformedFrame
	}
	f.connectionID = append([]byte(nil), b[off:off+cidLen]...)
	off += cidLen
	copy(f.resetToken[:], b[off:off+16])
	off += 16
	if f.retirePriorTo > f.sequenceNumber {
		return 0, errMalformedFrame
	}
	return off, nil
}

func (f *newConnectionIDFrame) String() string {
	return fmt.Sprintf("frame_type=new_connection_id sequence_number=%d retire_prior_to=%d connection_id=%x reset_token=%s",
		f.sequenceNumber, f.retirePriorTo, f.connectionID, hex.EncodeToString(f.resetToken[:]))
}

// retireConnectionIDFrame is RETIRE_CONNECTION_ID (RFC 9000 Section 19.16).
type retireConnectionIDFrame struct {
	sequenceNumber uint64
}

func newRetireConnectionIDFrame(seq uint64) *retireConnectionIDFrame {
	return &retireConnectionIDFrame{sequenceNumber: seq}
}

func (f *retireConnectionIDFrame) encodedLen() int {
	return varintLen(frameTypeRetireConnectionID) + varintLen(f.sequenceNumber)
}

func (f *retireConnectionIDFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	off := putVarint(b, frameTypeRetireConnectionID)
	off += putVarint(b[off:], f.sequenceNumber)
	return off, nil
}

func (f *retireConnectionIDFrame) decode(b []byte) (int, error) {
	var typ uint64
	n := getVarint(b, &typ)
	if n == 0 || typ != frameTypeRetireConnectionID {
		return 0, errMalformedFrame
	}
	off := n
	if n = getVarint(b[off:], &f.sequenceNumber); n == 0 {
		return 0, errMalformedFrame
	}
	return off + n, nil
}

func (f *retireConnectionIDFrame) String() string {
	return fmt.Sprintf("frame_type=retire_connection_id sequence_number=%d", f.sequenceNumber)
}
