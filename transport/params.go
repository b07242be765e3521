package transport

// Transport parameter ids, RFC 9000 Section 18.2 (spec.md §6).
const (
	paramOriginalDestinationConnectionID uint64 = 0x00
	paramMaxIdleTimeout                  uint64 = 0x01
	paramStatelessResetToken             uint64 = 0x02
	paramMaxUDPPayloadSize               uint64 = 0x03
	paramInitialMaxData                  uint64 = 0x04
	paramInitialMaxStreamDataBidiLocal    uint64 = 0x05
	paramInitialMaxStreamDataBidiRemote   uint64 = 0x06
	paramInitialMaxStreamDataUni          uint64 = 0x07
	paramInitialMaxStreamsBidi            uint64 = 0x08
	paramInitialMaxStreamsUni              uint64 = 0x09
	paramAckDelayExponent                uint64 = 0x0a
	paramMaxAckDelay                     uint64 = 0x0b
	paramDisableActiveMigration          uint64 = 0x0c
	paramPreferredAddress                uint64 = 0x0d
	paramActiveConnectionIDLimit         uint64 = 0x0e
	paramInitialSourceConnectionID       uint64 = 0x0f
	paramRetrySourceConnectionID         uint64 = 0x10
)

// preferredAddress carries the optional server preferred_address transport
// parameter, RFC 9000 Section 18.2.
type preferredAddress struct {
	ipv4                [4]byte
	ipv4Port            uint16
	ipv6                [16]byte
	ipv6Port            uint16
	connectionID        []byte
	statelessResetToken [16]byte
	set                 bool
}

// transportParameters is the full set exchanged via the TLS quic_transport_parameters
// extension (id 0x39), spec.md §6.
type transportParameters struct {
	originalDestinationConnectionID []byte
	maxIdleTimeout                  uint64
	statelessResetToken             []byte
	maxUDPPayloadSize               uint64
	initialMaxData                  uint64
	initialMaxStreamDataBidiLocal   uint64
	initialMaxStreamDataBidiRemote  uint64
	initialMaxStreamDataUni         uint64
	initialMaxStreamsBidi           uint64
	initialMaxStreamsUni            uint64
	ackDelayExponent                uint64
	maxAckDelay                     uint64
	disableActiveMigration          bool
	preferredAddress                preferredAddress
	activeConnectionIDLimit         uint64
	initialSourceConnectionID       []byte
	retrySourceConnectionID         []byte
}

// defaultTransportParameters returns the parameter set this implementation
// advertises absent explicit Config overrides, spec.md §6 defaults.
func defaultTransportParameters() transportParameters {
	return transportParameters{
		maxIdleTimeout:                  30000,
		maxUDPPayloadSize:               MaxPacketSize,
		initialMaxData:                  1 << 20,
		initialMaxStreamDataBidiLocal:   1 << 18,
		initialMaxStreamDataBidiRemote:  1 << 18,
		initialMaxStreamDataUni:         1 << 18,
		initialMaxStreamsBidi:           100,
		initialMaxStreamsUni:            100,
		ackDelayExponent:                3,
		maxAckDelay:                     25,
		activeConnectionIDLimit:         4,
	}
}

func putParamBytes(b *[]byte, id uint64, v []byte) {
	*b = appendVarint(*b, id)
	*b = appendVarint(*b, uint64(len(v)))
	*b = append(*b, v...)
}

func putParamVarint(b *[]byte, id uint64, v uint64) {
	var tmp [8]byte
	n := putVarint(tmp[:], v)
	putParamBytes(b, id, tmp[:n])
}

func putParamFlag(b *[]byte, id uint64) {
	putParamBytes(b, id, nil)
}

// encodeTransportParameters serializes p as the content of the
// quic_transport_parameters TLS extension.
func encodeTransportParameters(p *transportParameters) []byte {
	var b []byte
	if p.originalDestinationConnectionID != nil {
		putParamBytes(&b, paramOriginalDestinationConnectionID, p.originalDestinationConnectionID)
	}
	if p.maxIdleTimeout != 0 {
		putParamVarint(&b, paramMaxIdleTimeout, p.maxIdleTimeout)
	}
	if len(p.statelessResetToken) == 16 {
		putParamBytes(&b, paramStatelessResetToken, p.statelessResetToken)
	}
	if p.maxUDPPayloadSize != 0 {
		putParamVarint(&b, paramMaxUDPPayloadSize, p.maxUDPPayloadSize)
	}
	putParamVarint(&b, paramInitialMaxData, p.initialMaxData)
	putParamVarint(&b, paramInitialMaxStreamDataBidiLocal, p.initialMaxStreamDataBidiLocal)
	putParamVarint(&b, paramInitialMaxStreamDataBidiRemote, p.initialMaxStreamDataBidiRemote)
	putParamVarint(&b, paramInitialMaxStreamDataUni, p.initialMaxStreamDataUni)
	putParamVarint(&b, paramInitialMaxStreamsBidi, p.initialMaxStreamsBidi)
	putParamVarint(&b, paramInitialMaxStreamsUni, p.initialMaxStreamsUni)
	if p.ackDelayExponent != 3 {
		putParamVarint(&b, paramAckDelayExponent, p.ackDelayExponent)
	}
	if p.maxAckDelay != 25 {
		putParamVarint(&b, paramMaxAckDelay, p.maxAckDelay)
	}
	if p.disableActiveMigration {
		putParamFlag(&b, paramDisableActiveMigration)
	}
	if p.activeConnectionIDLimit != 0 {
		putParamVarint(&b, paramActiveConnectionIDLimit, p.activeConnectionIDLimit)
	}
	if p.initialSourceConnectionID != nil {
		putParamBytes(&b, paramInitialSourceConnectionID, p.initialSourceConnectionID)
	}
	if p.retrySourceConnectionID != nil {
		putParamBytes(&b, paramRetrySourceConnectionID, p.retrySourceConnectionID)
	}
	return b
}

// decodeTransportParameters parses the content of a peer's
// quic_transport_parameters extension, spec.md §4.3/§6.
func decodeTransportParameters(b []byte) (transportParameters, error) {
	p := transportParameters{ackDelayExponent: 3, maxAckDelay: 25}
	off := 0
	for off < len(b) {
		var id, length uint64
		n := getVarint(b[off:], &id)
		if n == 0 {
			return p, newError(TransportParameterError, "malformed transport parameter id")
		}
		off += n
		n = getVarint(b[off:], &length)
		if n == 0 {
			return p, newError(TransportParameterError, "malformed transport parameter length")
		}
		off += n
		if uint64(len(b)-off) < length {
			return p, newError(TransportParameterError, "truncated transport parameter")
		}
		v := b[off : off+int(length)]
		off += int(length)

		switch id {
		case paramOriginalDestinationConnectionID:
			p.originalDestinationConnectionID = append([]byte(nil), v...)
		case paramMaxIdleTimeout:
			p.maxIdleTimeout, _ = decodeParamVarint(v)
		case paramStatelessResetToken:
			if len(v) != 16 {
				return p, newError(TransportParameterError, "bad stateless_reset_token length")
			}
			p.statelessResetToken = append([]byte(nil), v...)
		case paramMaxUDPPayloadSize:
			p.maxUDPPayloadSize, _ = decodeParamVarint(v)
		case paramInitialMaxData:
			p.initialMaxData, _ = decodeParamVarint(v)
		case paramInitialMaxStreamDataBidiLocal:
			p.initialMaxStreamDataBidiLocal, _ = decodeParamVarint(v)
		case paramInitialMaxStreamDataBidiRemote:
			p.initialMaxStreamDataBidiRemote, _ = decodeParamVarint(v)
		case paramInitialMaxStreamDataUni:
			p.initialMaxStreamDataUni, _ = decodeParamVarint(v)
		case paramInitialMaxStreamsBidi:
			p.initialMaxStreamsBidi, _ = decodeParamVarint(v)
			if p.initialMaxStreamsBidi > 1<<60 {
				return p, newError(StreamLimitError, "initial_max_streams_bidi too large")
			}
		case paramInitialMaxStreamsUni:
			p.initialMaxStreamsUni, _ = decodeParamVarint(v)
			if p.initialMaxStreamsUni > 1<<60 {
				return p, newError(StreamLimitError, "initial_max_streams_uni too large")
			}
		case paramAckDelayExponent:
			p.ackDelayExponent, _ = decodeParamVarint(v)
		case paramMaxAckDelay:
			p.maxAckDelay, _ = decodeParamVarint(v)
		case paramDisableActiveMigration:
			p.disableActiveMigration = true
		case paramActiveConnectionIDLimit:
			p.activeConnectionIDLimit, _ = decodeParamVarint(v)
		case paramInitialSourceConnectionID:
			p.initialSourceConnectionID = append([]byte(nil), v...)
		case paramRetrySourceConnectionID:
			p.retrySourceConnectionID = append([]byte(nil), v...)
		case paramPreferredAddress:
			pa, err := decodePreferredAddress(v)
			if err != nil {
				return p, err
			}
			p.preferredAddress = pa
		default:
			// Unknown parameters are ignored, RFC 9000 Section 7.4.
		}
	}
	return p, nil
}

func decodeParamVarint(v []byte) (uint64, error) {
	var val uint64
	n := getVarint(v, &val)
	if n == 0 || n != len(v) {
		return 0, newError(TransportParameterError, "malformed varint-valued parameter")
	}
	return val, nil
}

func decodePreferredAddress(v []byte) (preferredAddress, error) {
	var pa preferredAddress
	if len(v) < 4+2+16+2+1 {
		return pa, newError(TransportParameterError, "truncated preferred_address")
	}
	off := 0
	copy(pa.ipv4[:], v[off:off+4])
	off += 4
	pa.ipv4Port = uint16(v[off])<<8 | uint16(v[off+1])
	off += 2
	copy(pa.ipv6[:], v[off:off+16])
	off += 16
	pa.ipv6Port = uint16(v[off])<<8 | uint16(v[off+1])
	off += 2
	cidLen := int(v[off])
	off++
	if len(v)-off < cidLen+16 {
		return pa, newError(TransportParameterError, "truncated preferred_address cid/token")
	}
	pa.connectionID = append([]byte(nil), v[off:off+cidLen]...)
	off += cidLen
	copy(pa.statelessResetToken[:], v[off:off+16])
	pa.set = true
	return pa, nil
}

// validatePeerConnectionIDParams checks the initial_source_connection_id,
// retry_source_connection_id and original_destination_connection_id
// transport parameters against the CIDs actually observed during the
// handshake, spec.md §4.3. Mismatch is a mandatory TRANSPORT_PARAMETER_ERROR.
func validatePeerConnectionIDParams(peer *transportParameters, scidSeen, odcidSeen, rscidSeen []byte, didRetry bool) error {
	if !bytesEqual(peer.initialSourceConnectionID, scidSeen) {
		return newError(TransportParameterError, "initial_source_connection_id mismatch")
	}
	if odcidSeen != nil && !bytesEqual(peer.originalDestinationConnectionID, odcidSeen) {
		return newError(TransportParameterError, "original_destination_connection_id mismatch")
	}
	if didRetry && !bytesEqual(peer.retrySourceConnectionID, rscidSeen) {
		return newError(TransportParameterError, "retry_source_connection_id mismatch")
	}
	if !didRetry && peer.retrySourceConnectionID != nil {
		return newError(TransportParameterError, "unexpected retry_source_connection_id")
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
