package archtype

import (
	"fmt"
	"io"
	"syscall"

	"github.com/pkg/errors"
)

// Code classifies engine errors.
type Code uint8

const (
	CodeOpenFailed Code = iota + 1
	CodeUnsupportedFormat
	CodeUnsupportedFilter
	CodeUnsupportedOption
	CodeCorruptHeader
	CodeCorruptData
	CodeSizeMismatch
	CodeDecryptionFailed
	CodeUnsafePath
	CodeInvalidState
	CodeIOError
)

var codeNames = map[Code]string{
	CodeOpenFailed:        "open failed",
	CodeUnsupportedFormat: "unsupported format",
	CodeUnsupportedFilter: "unsupported filter",
	CodeUnsupportedOption: "unsupported option",
	CodeCorruptHeader:     "corrupt header",
	CodeCorruptData:       "corrupt data",
	CodeSizeMismatch:      "size mismatch",
	CodeDecryptionFailed:  "decryption failed",
	CodeUnsafePath:        "unsafe path",
	CodeInvalidState:      "invalid state",
	CodeIOError:           "i/o error",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

// Sentinel errors, one per code. They match any *Error of the same code with
// errors.Is.
var (
	ErrOpenFailed        = &Error{Code: CodeOpenFailed}
	ErrUnsupportedFormat = &Error{Code: CodeUnsupportedFormat}
	ErrUnsupportedFilter = &Error{Code: CodeUnsupportedFilter}
	ErrUnsupportedOption = &Error{Code: CodeUnsupportedOption}
	ErrCorruptHeader     = &Error{Code: CodeCorruptHeader}
	ErrCorruptData       = &Error{Code: CodeCorruptData}
	ErrSizeMismatch      = &Error{Code: CodeSizeMismatch}
	ErrDecryptionFailed  = &Error{Code: CodeDecryptionFailed}
	ErrUnsafePath        = &Error{Code: CodeUnsafePath}
	ErrInvalidState      = &Error{Code: CodeInvalidState}
	ErrIOError           = &Error{Code: CodeIOError}
)

// Error is the error type returned by every engine operation.
type Error struct {
	Code Code

	// Op names the failed operation, e.g. "read header".
	Op string

	// Path is the archive member or filesystem path involved, if any.
	Path string

	Err error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches bare sentinels by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Path == "" && t.Err == nil && t.Code == e.Code
}

// Errno returns the underlying OS error code, or 0 when there is none.
func (e *Error) Errno() int {
	var errno syscall.Errno
	if errors.As(e.Err, &errno) {
		return int(errno)
	}
	return 0
}

// Errorf builds a new error with a formatted message and a stack.
func Errorf(code Code, op string, format string, args ...any) error {
	return &Error{
		Code: code,
		Op:   op,
		Err:  errors.Errorf(format, args...),
	}
}

// Wrap annotates err with a code. Existing engine errors are returned as is
// so the innermost classification wins. A nil err yields nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{
		Code: code,
		Op:   op,
		Err:  errors.WithStack(err),
	}
}

// WrapPath is Wrap with the member or filesystem path attached.
func WrapPath(code Code, op, path string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{
		Code: code,
		Op:   op,
		Path: path,
		Err:  errors.WithStack(err),
	}
}

// WrapIO classifies an error coming from a source or sink. Truncation is
// reported as corrupt data, everything else as an I/O error.
func WrapIO(op string, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return Wrap(CodeCorruptData, op, err)
	}
	return Wrap(CodeIOError, op, err)
}

// CodeOf returns the code of err, or 0 when err is not an engine error.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return 0
}

// ErrnoOf returns the OS error code carried by err, or 0.
func ErrnoOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Errno()
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return 0
}
