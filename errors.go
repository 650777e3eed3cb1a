package http2

import "fmt"

// ErrorCode is a 32-bit HTTP/2 error code, carried on RST_STREAM and
// GOAWAY frames.
//
// https://httpwg.org/specs/rfc7540.html#ErrorCodes
type ErrorCode uint32

const (
	NoError              ErrorCode = 0x0
	ProtocolError        ErrorCode = 0x1
	InternalError        ErrorCode = 0x2
	FlowControlError     ErrorCode = 0x3
	SettingsTimeoutError ErrorCode = 0x4
	StreamClosedError    ErrorCode = 0x5
	FrameSizeError       ErrorCode = 0x6
	RefusedStreamError   ErrorCode = 0x7
	CancelError          ErrorCode = 0x8
	CompressionError     ErrorCode = 0x9
	ConnectError         ErrorCode = 0xa
	EnhanceYourCalm      ErrorCode = 0xb
	InadequateSecurity   ErrorCode = 0xc
	HTTP11Required       ErrorCode = 0xd
)

// StreamCanceled is the conventional RST_STREAM code used when the
// server gives up on a stream that is still technically well-formed
// (request timeout, superseded idle stream, ...).
const StreamCanceled = CancelError

var errorCodeNames = [...]string{
	"NO_ERROR", "PROTOCOL_ERROR", "INTERNAL_ERROR", "FLOW_CONTROL_ERROR",
	"SETTINGS_TIMEOUT", "STREAM_CLOSED", "FRAME_SIZE_ERROR", "REFUSED_STREAM",
	"CANCEL", "COMPRESSION_ERROR", "CONNECT_ERROR", "ENHANCE_YOUR_CALM",
	"INADEQUATE_SECURITY", "HTTP_1_1_REQUIRED",
}

func (e ErrorCode) String() string {
	if int(e) < len(errorCodeNames) {
		return errorCodeNames[e]
	}

	return fmt.Sprintf("UNKNOWN_ERROR(0x%x)", uint32(e))
}

// Error is the protocol error type the frame codec, HPACK, stream and
// settings layers return; the codec and HPACK decoder also return the
// plain sentinel errors declared below. frameType records how the
// protocol handler should surface it to the peer: FrameGoAway for
// connection-fatal
// errors, FrameResetStream for stream-scoped ones.
type Error struct {
	code      ErrorCode
	frameType FrameType
	msg       string
}

func (e Error) Error() string {
	if e.msg == "" {
		return e.code.String()
	}

	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

// Code returns the RFC 9113 error code carried by e.
func (e Error) Code() ErrorCode {
	return e.code
}

// NewError builds a stream-scoped Error carrying code and an optional
// human-readable message.
func NewError(code ErrorCode, msg string) Error {
	return Error{code: code, frameType: FrameResetStream, msg: msg}
}

// NewGoAwayError builds a connection-fatal Error: the protocol handler
// translates it into a GOAWAY rather than a RST_STREAM.
func NewGoAwayError(code ErrorCode, msg string) error {
	return Error{code: code, frameType: FrameGoAway, msg: msg}
}

// NewResetStreamError builds a stream-scoped Error that the protocol
// handler translates into a RST_STREAM, leaving the connection open.
func NewResetStreamError(code ErrorCode, msg string) error {
	return Error{code: code, frameType: FrameResetStream, msg: msg}
}

// Sentinel errors returned by the frame codec and HPACK decoder.
var (
	ErrUnknownFrameType = fmt.Errorf("http2: unknown frame type")
	ErrZeroPayload      = fmt.Errorf("http2: zero payload")
	ErrBadPreface       = fmt.Errorf("http2: bad connection preface")
	ErrFrameMismatch    = fmt.Errorf("http2: frame type mismatch")
	ErrMissingBytes     = fmt.Errorf("http2: frame is missing bytes")
	ErrPayloadExceeds   = fmt.Errorf("http2: payload exceeds the negotiated max frame size")
	ErrUnexpectedSize   = fmt.Errorf("http2: unexpected hpack representation size, need more bytes")
	ErrBitOverflow      = fmt.Errorf("http2: integer representation overflows 64 bits")
)
