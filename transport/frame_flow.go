package transport

import "fmt"

// maxDataFrame is MAX_DATA (RFC 9000 Section 19.9).
type maxDataFrame struct {
	maximumData uint64
}

func newMaxDataFrame(max uint64) *maxDataFrame { return &maxDataFrame{maximumData: max} }

func (f *maxDataFrame) encodedLen() int {
	return varintLen(frameTypeMaxData) + varintLen(f.maximumData)
}

func (f *maxDataFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	off := putVarint(b, frameTypeMaxData)
	off += putVarint(b[off:], f.maximumData)
	return off, nil
}

func (f *maxDataFrame) decode(b []byte) (int, error) {
	var typ uint64
	n := getVarint(b, &typ)
	if n == 0 || typ != frameTypeMaxData {
		return 0, errMalformedFrame
	}
	off := n
	if n = getVarint(b[off:], &f.maximumData); n == 0 {
		return 0, errMalformedFrame
	}
	return off + n, nil
}

func (f *maxDataFrame) String() string {
	return fmt.Sprintf("frame_type=max_data maximum=%d", f.maximumData)
}

// maxStreamDataFrame is MAX_STREAM_DATA (RFC 9000 Section 19.10).
type maxStreamDataFrame struct {
	streamID    uint64
	maximumData uint64
}

func newMaxStreamDataFrame(id, max uint64) *maxStreamDataFrame {
	return &maxStreamDataFrame{streamID: id, maximumData: max}
}

func (f *maxStreamDataFrame) encodedLen() int {
	return varintLen(frameTypeMaxStreamData) + varintLen(f.streamID) + varintLen(f.maximumData)
}

func (f *maxStreamDataFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	off := putVarint(b, frameTypeMaxStreamData)
	off += putVarint(b[off:], f.streamID)
	off += putVarint(b[off:], f.maximumData)
	return off, nil
}

func (f *maxStreamDataFrame) decode(b []byte) (int, error) {
	var typ uint64
	n := getVarint(b, &typ)
	if n == 0 || typ != frameTypeMaxStreamData {
		return 0, errMalformedFrame
	}
	off := n
	for _, v := range []*uint64{&f.streamID, &f.maximumData} {
		if n = getVarint(b[off:], v); n == 0 {
			return 0, errMalformedFrame
		}
		off += n
	}
	return off, nil
}

func (f *maxStreamDataFrame) String() string {
	return fmt.Sprintf("frame_type=max_stream_data stream_id=%d maximum=%d", f.streamID, f.maximumData)
}

// maxStreamsFrame is MAX_STREAMS (RFC 9000 Section 19.11).
type maxStreamsFrame struct {
	maximumStreams uint64
	bidi           bool
}

func newMaxStreamsFrame(max uint64, bidi bool) *maxStreamsFrame {
	return &maxStreamsFrame{maximumStreams: max, bidi: bidi}
}

func (f *maxStreamsFrame) typ() uint64 {
	if f.bidi {
		return frameTypeMaxStreamsBidi
	}
	return frameTypeMaxStreamsUni
}

func (f *maxStreamsFrame) encodedLen() int {
	return varintLen(f.typ()) + varintLen(f.maximumStreams)
}

func (f *maxStreamsFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	off := putVarint(b, f.typ())
	off += putVarint(b[off:], f.maximumStreams)
	return off, nil
}

func (f *maxStreamsFrame) decode(b []byte) (int, error) {
	var typ uint64
	n := getVarint(b, &typ)
	if n == 0 || (typ != frameTypeMaxStreamsBidi && typ != frameTypeMaxStreamsUni) {
		return 0, errMalformedFrame
	}
	f.bidi = typ == frameTypeMaxStreamsBidi
	off := n
	if n = getVarint(b[off:], &f.maximumStreams); n == 0 {
		return 0, errMalformedFrame
	}
	return off + n, nil
}

func (f *maxStreamsFrame) String() string {
	t := "unidirectional"
	if f.bidi {
		t = "bidirectional"
	}
	return fmt.Sprintf("frame_type=max_streams stream_type=%s maximum=%d", t, f.maximumStreams)
}

// dataBlockedFrame is DATA_BLOCKED (RFC 9000 Section 19.12).
type dataBlockedFrame struct {
	limit uint64
}

func newDataBlockedFrame(limit uint64) *dataBlockedFrame { return &dataBlockedFrame{limit: limit} }

func (f *dataBlockedFrame) encodedLen() int {
	return varintLen(frameTypeDataBlocked) + varintLen(f.limit)
}

func (f *dataBlockedFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	off := putVarint(b, frameTypeDataBlocked)
	off += putVarint(b[off:], f.limit)
	return off, nil
}

func (f *dataBlockedFrame) decode(b []byte) (int, error) {
	var typ uint64
	n := getVarint(b, &typ)
	if n == 0 || typ != frameTypeDataBlocked {
		return 0, errMalformedFrame
	}
	off := n
	if n = getVarint(b[off:], &f.limit); n == 0 {
		return 0, errMalformedFrame
	}
	return off + n, nil
}

func (f *dataBlockedFrame) String() string {
	return fmt.Sprintf("frame_type=data_blocked limit=%d", f.limit)
}

// streamDataBlockedFrame is STREAM_DATA_BLOCKED (RFC 9000 Section 19.13).
type streamDataBlockedFrame struct {
	streamID uint64
	limit    uint64
}

func newStreamDataBlockedFrame(id, limit uint64) *streamDataBlockedFrame {
	return &streamDataBlockedFrame{streamID: id, limit: limit}
}

func (f *streamDataBlockedFrame) encodedLen() int {
	return varintLen(frameTypeStreamDataBlocked) + varintLen(f.streamID) + varintLen(f.limit)
}

func (f *streamDataBlockedFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	off := putVarint(b, frameTypeStreamDataBlocked)
	off += putVarint(b[off:], f.streamID)
	off += putVarint(b[off:], f.limit)
	return off, nil
}

func (f *streamDataBlockedFrame) decode(b []byte) (int, error) {
	var typ uint64
	n := getVarint(b, &typ)
	if n == 0 || typ != frameTypeStreamDataBlocked {
		return 0, errMalformedFrame
	}
	off := n
	for _, v := range []*uint64{&f.streamID, &f.limit} {
		if n = getVarint(b[off:], v); n == 0 {
			return 0, errMalformedFrame
		}
		off += n
	}
	return off, nil
}

func (f *streamDataBlockedFrame) String() string {
	return fmt.Sprintf("frame_type=stream_data_blocked stream_id=%d limit=%d", f.streamID, f.limit)
}

// streamsBlockedFrame is STREAMS_BLOCKED (RFC 9000 Section 19.14).
type streamsBlockedFrame struct {
	limit uint64
	bidi  bool
}

func newStreamsBlockedFrame(limit uint64, bidi bool) *streamsBlockedFrame {
	return &streamsBlockedFrame{limit: limit, bidi: bidi}
}

func (f *streamsBlockedFrame) typ() uint64 {
	if f.bidi {
		return frameTypeStreamsBlockedBidi
	}
	return frameTypeStreamsBlockedUni
}

func (f *streamsBlockedFrame) encodedLen() int {
	return varintLen(f.typ()) + varintLen(f.limit)
}

func (f *streamsBlockedFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	off := putVarint(b, f.typ())
	off += putVarint(b[off:], f.limit)
	return off, nil
}

func (f *streamsBlockedFrame) decode(b []byte) (int, error) {
	var typ uint64
	n := getVarint(b, &typ)
	if n == 0 || (typ != frameTypeStreamsBlockedBidi && typ != frameTypeStreamsBlockedUni) {
		return 0, errMalformedFrame
	}
	f.bidi = typ == frameTypeStreamsBlockedBidi
	off := n
	if n = getVarint(b[off:], &f.limit); n == 0 {
		return 0, errMalformedFrame
	}
	return off + n, nil
}

func (f *streamsBlockedFrame) String() string {
	t := "unidirectional"
	if f.bidi {
		t = "bidirectional"
	}
	return fmt.Sprintf("frame_type=streams_blocked stream_type=%s limit=%d", t, f.limit)
}
