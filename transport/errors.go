package transport

import "fmt"

// ErrorCode is a QUIC transport error code as defined by RFC 9000 Section 20.1,
// plus the single CryptoError range reserved for TLS alerts.
type ErrorCode uint64

// Transport error codes.
const (
	NoError                  ErrorCode = 0x00
	InternalError            ErrorCode = 0x01
	ConnectionRefused        ErrorCode = 0x02
	FlowControlError         ErrorCode = 0x03
	StreamLimitError         ErrorCode = 0x04
	StreamStateError         ErrorCode = 0x05
	FinalSizeError           ErrorCode = 0x06
	FrameEncodingError       ErrorCode = 0x07
	TransportParameterError  ErrorCode = 0x08
	ConnectionIDLimitError   ErrorCode = 0x09
	ProtocolViolation        ErrorCode = 0x0a
	InvalidToken             ErrorCode = 0x0b
	ApplicationError         ErrorCode = 0x0c
	CryptoBufferExceeded     ErrorCode = 0x0d
	KeyUpdateError           ErrorCode = 0x0e
	AEADLimitReached         ErrorCode = 0x0f
	NoViablePath             ErrorCode = 0x10
	FrameTypeError           ErrorCode = 0x11 // not in RFC; used internally to flag bad frame type on trigger_frame
	cryptoErrorBase          ErrorCode = 0x0100
)

// malformed/decrypt sentinels are not connection errors on their own;
// the caller decides whether to attribute them to a connection.
var (
	errMalformedFrame   = newError(FrameEncodingError, "malformed frame")
	errDecryptionFailed = newError(InternalError, "decryption failed")
	errShortBuffer      = newError(InternalError, "short buffer")
	errFlowControl      = newError(FlowControlError, "flow control violation")
	errInvalidToken     = newError(InvalidToken, "invalid retry token")
)

// Error is a QUIC connection error, carrying enough information to build a
// CONNECTION_CLOSE frame (RFC 9000 Section 19.19).
type Error struct {
	Code    ErrorCode
	Frame   uint64 // trigger_frame_type; 0 if not applicable
	Message string
	app     bool // true if Code is an application (not transport) error space
}

func newError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func newAppError(code uint64, msg string) *Error {
	return &Error{Code: ErrorCode(code), Message: msg, app: true}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("quic: %s", errorCodeString(e.Code))
	}
	return fmt.Sprintf("quic: %s: %s", errorCodeString(e.Code), e.Message)
}

func errorCodeString(c ErrorCode) string {
	switch c {
	case NoError:
		return "no_error"
	case InternalError:
		return "internal_error"
	case ConnectionRefused:
		return "connection_refused"
	case FlowControlError:
		return "flow_control_error"
	case StreamLimitError:
		return "stream_limit_error"
	case StreamStateError:
		return "stream_state_error"
	case FinalSizeError:
		return "final_size_error"
	case FrameEncodingError:
		return "frame_encoding_error"
	case TransportParameterError:
		return "transport_parameter_error"
	case ConnectionIDLimitError:
		return "connection_id_limit_error"
	case ProtocolViolation:
		return "protocol_violation"
	case InvalidToken:
		return "invalid_token"
	case ApplicationError:
		return "application_error"
	case CryptoBufferExceeded:
		return "crypto_buffer_exceeded"
	case KeyUpdateError:
		return "key_update_error"
	case AEADLimitReached:
		return "aead_limit_reached"
	case NoViablePath:
		return "no_viable_path"
	default:
		if c >= cryptoErrorBase && c < cryptoErrorBase+0x100 {
			return fmt.Sprintf("crypto_error_%d", c-cryptoErrorBase)
		}
		return fmt.Sprintf("error_0x%x", uint64(c))
	}
}

// sprint mirrors the teacher's tiny fmt.Sprint wrapper for building
// debug/error text; nothing in this package calls it.
func sprint(a ...interface{}) string {
	return fmt.Sprint(a...)
}
