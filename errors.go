// Package ubibdev implements the stripe-fetch engine: a block device that
// lazily materializes a read-only image into a backing device, one stripe
// at a time.
package ubibdev

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured ubi-bdev error with enough context to
// identify which device, channel, and operation failed.
type Error struct {
	Op      string  // operation that failed (e.g. "CREATE", "FLUSH", "FETCH")
	Device  string  // device name (empty if not applicable)
	Channel int     // channel index (-1 if not applicable)
	Code    Code    // high-level error category
	Errno   syscall.Errno // underlying errno (0 if not applicable)
	Msg     string  // human-readable message
	Inner   error   // wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Device != "" {
		parts = append(parts, fmt.Sprintf("device=%s", e.Device))
	}
	if e.Channel >= 0 {
		parts = append(parts, fmt.Sprintf("channel=%d", e.Channel))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("ubi-bdev: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("ubi-bdev: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparison against a bare Code or another *Error,
// matching on Code only.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if c, ok := target.(Code); ok {
		return e.Code == c
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// Code is a high-level error category, per spec §7.
type Code string

const (
	CodeInvalidConfig      Code = "invalid config"
	CodeInvalidFormat      Code = "invalid format"
	CodeUnsupportedVersion Code = "unsupported version"
	CodeBackingIOFailed    Code = "backing device I/O failed"
	CodeImageIOFailed      Code = "image I/O failed"
	CodeResourceExhausted  Code = "resource exhausted"
	CodeNotFound           Code = "not found"
	CodeInternalError      Code = "internal error"
)

func (c Code) Error() string { return string(c) }

// NewError creates a new structured error with no device/channel context.
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, Channel: -1, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a new structured error carrying an errno.
func NewErrorWithErrno(op string, code Code, errno syscall.Errno) *Error {
	return &Error{Op: op, Channel: -1, Code: code, Errno: errno, Msg: errno.Error()}
}

// NewDeviceError creates a device-scoped error.
func NewDeviceError(op, device string, code Code, msg string) *Error {
	return &Error{Op: op, Device: device, Channel: -1, Code: code, Msg: msg}
}

// NewChannelError creates a channel-scoped error.
func NewChannelError(op, device string, channel int, code Code, msg string) *Error {
	return &Error{Op: op, Device: device, Channel: channel, Code: code, Msg: msg}
}

// WrapError wraps an existing error with ubi-bdev context, preserving an
// inner *Error's device/channel/code or mapping a syscall errno to a code.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ue, ok := inner.(*Error); ok {
		return &Error{
			Op:      op,
			Device:  ue.Device,
			Channel: ue.Channel,
			Code:    ue.Code,
			Errno:   ue.Errno,
			Msg:     ue.Msg,
			Inner:   ue.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op:      op,
			Channel: -1,
			Code:    mapErrnoToCode(errno),
			Errno:   errno,
			Msg:     errno.Error(),
			Inner:   inner,
		}
	}

	return &Error{
		Op:      op,
		Channel: -1,
		Code:    CodeBackingIOFailed,
		Msg:     inner.Error(),
		Inner:   inner,
	}
}

// mapErrnoToCode maps a syscall errno to an error Code.
func mapErrnoToCode(errno syscall.Errno) Code {
	switch errno {
	case syscall.ENOENT:
		return CodeNotFound
	case syscall.EINVAL, syscall.E2BIG:
		return CodeInvalidConfig
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return CodeUnsupportedVersion
	case syscall.ENOMEM, syscall.ENOSPC:
		return CodeResourceExhausted
	default:
		return CodeBackingIOFailed
	}
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsErrno reports whether err is (or wraps) an *Error carrying the given
// errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Errno == errno
	}
	return false
}
