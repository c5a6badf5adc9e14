package iso14230

import "fmt"

// Code classifies the failure modes a protocol operation can report, per
// ISO 14230 L2 error taxonomy.
type Code int

const (
	// ErrNone is the zero value; never returned, only used internally.
	ErrNone Code = iota
	// CodeIncompleteData means more bytes are needed before a frame can be decoded.
	CodeIncompleteData
	// CodeBadData means the buffer does not look like a valid frame (CARB mode,
	// zero-length, or an addressless header where one was disallowed).
	CodeBadData
	// CodeBadLen means the caller asked to send a payload the negotiated header
	// form cannot represent.
	CodeBadLen
	// CodeTimeout means L1 did not deliver bytes within the allotted window.
	CodeTimeout
	// CodeWrongKeyBytes means the ECU's 5-baud key bytes didn't match expectations.
	CodeWrongKeyBytes
	// CodeEcuSaidNo means the ECU returned an unrecoverable negative response.
	CodeEcuSaidNo
	// CodeInitNotSupported means the requested init type isn't implemented.
	CodeInitNotSupported
	// CodeOutOfMemory mirrors the original's allocator-failure path.
	CodeOutOfMemory
	// CodeL1Error wraps an error surfaced by the transport.
	CodeL1Error
	// CodeGeneral is a catch-all for conditions with no more specific code.
	CodeGeneral
)

func (c Code) String() string {
	switch c {
	case CodeIncompleteData:
		return "incomplete data"
	case CodeBadData:
		return "bad data"
	case CodeBadLen:
		return "bad length"
	case CodeTimeout:
		return "timeout"
	case CodeWrongKeyBytes:
		return "wrong key bytes"
	case CodeEcuSaidNo:
		return "ecu said no"
	case CodeInitNotSupported:
		return "init type not supported"
	case CodeOutOfMemory:
		return "out of memory"
	case CodeL1Error:
		return "l1 error"
	case CodeGeneral:
		return "general error"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every fallible operation in this
// package. It mirrors the teacher library's Error{msg, err} + Unwrap shape.
type Error struct {
	Code Code
	msg  string
	err  error
}

func (e *Error) Error() string {
	s := e.Code.String()
	if e.msg != "" {
		s += ": " + e.msg
	}
	if e.err != nil {
		s += ": " + e.err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is lets errors.Is match against a sentinel of the same Code, regardless of
// the attached message/cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newErr(code Code, msg string) *Error {
	return &Error{Code: code, msg: msg}
}

func wrapErr(code Code, msg string, cause error) *Error {
	if cause == nil {
		return newErr(code, msg)
	}
	return &Error{Code: code, msg: msg, err: cause}
}

// Sentinel errors for errors.Is comparisons against a bare code.
var (
	ErrIncompleteData   = newErr(CodeIncompleteData, "")
	ErrBadData          = newErr(CodeBadData, "")
	ErrBadLen           = newErr(CodeBadLen, "")
	ErrTimeout          = newErr(CodeTimeout, "")
	ErrWrongKeyBytes    = newErr(CodeWrongKeyBytes, "")
	ErrEcuSaidNo        = newErr(CodeEcuSaidNo, "")
	ErrInitNotSupported = newErr(CodeInitNotSupported, "")
	ErrOutOfMemory      = newErr(CodeOutOfMemory, "")
	ErrL1Error          = newErr(CodeL1Error, "")
	ErrGeneral          = newErr(CodeGeneral, "")
)

// NegativeResponseError pairs an EcuSaidNo error with the raw negative
// response and its NRC (data[2]). Request builds one for a negative response
// this layer does not recover from locally and returns its embedded *Error
// (whose message names the NRC), with the raw response as Request's first
// return value so the caller can inspect it.
type NegativeResponseError struct {
	*Error
	Response *Message
	NRC      byte
}

func newNegativeResponseError(resp *Message) *NegativeResponseError {
	nrc := byte(0)
	if len(resp.Data) >= 3 {
		nrc = resp.Data[2]
	}
	return &NegativeResponseError{
		Error:    wrapErr(CodeEcuSaidNo, fmt.Sprintf("NRC=0x%02X", nrc), nil),
		Response: resp,
		NRC:      nrc,
	}
}
