// Package errs defines the error taxonomy shared by the format adapters, the
// spatial helpers and the data manager.
package errs

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrUnsupportedFormat reports an unknown extension or an extension that
	// cannot hold the in-memory representation.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrDecode reports a malformed or corrupt source file.
	ErrDecode = errors.New("decode error")

	// ErrEncode reports a write-side failure.
	ErrEncode = errors.New("encode error")

	// ErrInvalidParameter reports a caller-supplied argument out of domain.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrUnavailableOperation reports an operation invoked on data of the
	// wrong dimensionality.
	ErrUnavailableOperation = errors.New("unavailable operation")
)

// Error carries the kind of failure together with the operation and path
// that produced it.
type Error struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Unsupported builds an ErrUnsupportedFormat error.
func Unsupported(op, path, format string, args ...any) error {
	return &Error{Kind: ErrUnsupportedFormat, Op: op, Path: path, Err: fmt.Errorf(format, args...)}
}

// Decode wraps err as an ErrDecode error. It returns nil for a nil err.
func Decode(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && (e.Kind == ErrDecode || e.Kind == ErrUnsupportedFormat) {
		return err
	}
	return &Error{Kind: ErrDecode, Op: op, Path: path, Err: err}
}

// Decodef builds an ErrDecode error from a message.
func Decodef(op, path, format string, args ...any) error {
	return &Error{Kind: ErrDecode, Op: op, Path: path, Err: fmt.Errorf(format, args...)}
}

// Encode wraps err as an ErrEncode error. It returns nil for a nil err.
func Encode(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && (e.Kind == ErrEncode || e.Kind == ErrUnsupportedFormat) {
		return err
	}
	return &Error{Kind: ErrEncode, Op: op, Path: path, Err: err}
}

// Invalid builds an ErrInvalidParameter error.
func Invalid(op, format string, args ...any) error {
	return &Error{Kind: ErrInvalidParameter, Op: op, Err: fmt.Errorf(format, args...)}
}

// Unavailable builds an ErrUnavailableOperation error.
func Unavailable(op, format string, args ...any) error {
	return &Error{Kind: ErrUnavailableOperation, Op: op, Err: fmt.Errorf(format, args...)}
}
