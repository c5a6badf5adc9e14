package serialport

import "syscall"

type Error struct {
	msg string
	err error
}

func (e Error) Error() string {
	if e.msg != "" {
		msg := e.msg
		if e.err != nil {
			msg += ": " + e.err.Error()
		}
		return msg
	}
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e Error) Unwrap() error {
	return e.err
}

func wrapErr(msg string, e error) error {
	if e == nil {
		return nil
	}
	return Error{
		msg: msg,
		err: e,
	}
}

// errAlreadyClosed is distinct from the Port type's own ErrClosed (defined
// in port_linux.go and returned directly by Port's methods); this one is
// used by KLineTransport's own close-related wrapping.
var errAlreadyClosed = Error{"port already closed", syscall.EBADF}
