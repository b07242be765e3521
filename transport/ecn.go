package transport

// ECN is the two-bit Explicit Congestion Notification codepoint carried by
// the IP header, RFC 3168 Section 5. QUIC treats these as opaque markings
// reported back by the peer in ACK_ECN frames, RFC 9000 Section 13.4.
type ECN uint8

const (
	ECNNotECT ECN = 0b00
	ECNECT1   ECN = 0b01
	ECNECT0   ECN = 0b10
	ECNCE     ECN = 0b11
)

// ecnCounts mirrors the three counters an ACK_ECN frame carries: the total
// number of packets a peer has ever seen with each codepoint, RFC 9000
// Section 13.4.2. Comparing a newly-received set of counts against the
// previous one reveals whether additional marks (in particular additional
// CE marks) arrived since the last ACK.
type ecnCounts struct {
	ect0, ect1, ce uint64
}

// ecnState drives RFC 9000 Section 13.4.2's ECN validation for one path: an
// endpoint starts out testing whether the path honors ECN marks by sending
// ECT(0), and stops marking once onValidationFailed is called. Nothing in
// the connection calls onValidationFailed, so marking stays on for as long
// as it is enabled.
type ecnState struct {
	enabled bool // local policy: this Config opted into marking outgoing datagrams
	failed  bool // validation has failed; stop marking
}

// init applies local policy; marking begins optimistically whenever enabled,
// RFC 9000 Section 13.4.1.
func (e *ecnState) init(enabled bool) {
	e.enabled = enabled
}

// markOutgoing returns the ECN codepoint this endpoint should stamp on its
// next outgoing datagram.
func (e *ecnState) markOutgoing() ECN {
	if !e.enabled || e.failed {
		return ECNNotECT
	}
	return ECNECT0
}

// onValidationFailed gives up on ECN for the rest of the connection, RFC 9000
// Section 13.4.2's validation failure case (e.g. the peer reports fewer ECN
// marks than packets sent, or none at all after enough samples).
func (e *ecnState) onValidationFailed() {
	e.failed = true
}
