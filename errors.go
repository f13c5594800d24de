package hal

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"
)

// Error codes
const (
	// Arbitration error codes (0x100 range)
	ErrCodeBusy         = -0x101
	ErrCodeNotPermitted = -0x102
	ErrCodeBadRequest   = -0x103
	ErrCodeInvalidState = -0x104

	// Transport error codes (0x200 range)
	ErrCodeWouldBlock = -0x201
	ErrCodeCancelled  = -0x202
	ErrCodeIOFault    = -0x203

	// Cross-process sync error codes (0x300 range)
	ErrCodePermissionDenied = -0x301
	ErrCodeTimeout          = -0x302
)

// DriverError is the base interface for all errors returned by the core
type DriverError interface {
	error
	IsDriverError() bool
	Code() int
}

// ArbitrationError is returned when a control request conflicts with the
// current access state. The state is left unchanged.
type ArbitrationError interface {
	DriverError
	IsArbitrationError() bool
}

// TransportError represents failures of the byte stream path
type TransportError interface {
	DriverError
	IsTransportError() bool
}

// SyncError represents failures talking to the registered client
type SyncError interface {
	DriverError
	IsSyncError() bool
}

// baseError provides common functionality for all error types
type baseError struct {
	code    int
	message string
}

func (e *baseError) Error() string {
	return e.message
}

func (e *baseError) Code() int {
	return e.code
}

func (e *baseError) IsDriverError() bool {
	return true
}

type arbitrationError struct {
	baseError
}

func (e *arbitrationError) IsArbitrationError() bool {
	return true
}

type transportError struct {
	baseError
	cause error
}

func (e *transportError) IsTransportError() bool {
	return true
}

func (e *transportError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *transportError) Unwrap() error {
	return e.cause
}

type syncError struct {
	baseError
	cause error
}

func (e *syncError) IsSyncError() bool {
	return true
}

func (e *syncError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *syncError) Unwrap() error {
	return e.cause
}

// Arbitration error constructors

func NewBusyError(message string) error {
	return &arbitrationError{baseError{code: ErrCodeBusy, message: message}}
}

func NewNotPermittedError(message string) error {
	return &arbitrationError{baseError{code: ErrCodeNotPermitted, message: message}}
}

func NewBadRequestError(message string) error {
	return &arbitrationError{baseError{code: ErrCodeBadRequest, message: message}}
}

func NewInvalidStateError(message string) error {
	return &arbitrationError{baseError{code: ErrCodeInvalidState, message: message}}
}

// Transport error constructors

func NewWouldBlockError(message string) error {
	return &transportError{baseError: baseError{code: ErrCodeWouldBlock, message: message}}
}

func NewCancelledError(message string) error {
	return &transportError{baseError: baseError{code: ErrCodeCancelled, message: message}}
}

func NewIOFaultError(message string, cause error) error {
	return &transportError{
		baseError: baseError{code: ErrCodeIOFault, message: message},
		cause:     cause,
	}
}

// Sync error constructors

func NewPermissionDeniedError(message string, cause error) error {
	return &syncError{
		baseError: baseError{code: ErrCodePermissionDenied, message: message},
		cause:     cause,
	}
}

func NewTimeoutError(message string) error {
	return &syncError{baseError: baseError{code: ErrCodeTimeout, message: message}}
}

// Helper functions for error type checking

// ErrorCode returns the driver error code carried by err, or 0.
func ErrorCode(err error) int {
	var de DriverError
	if errors.As(err, &de) {
		return de.Code()
	}
	return 0
}

func IsBusyError(err error) bool             { return ErrorCode(err) == ErrCodeBusy }
func IsNotPermittedError(err error) bool     { return ErrorCode(err) == ErrCodeNotPermitted }
func IsBadRequestError(err error) bool       { return ErrorCode(err) == ErrCodeBadRequest }
func IsInvalidStateError(err error) bool     { return ErrorCode(err) == ErrCodeInvalidState }
func IsWouldBlockError(err error) bool       { return ErrorCode(err) == ErrCodeWouldBlock }
func IsCancelledError(err error) bool        { return ErrorCode(err) == ErrCodeCancelled }
func IsIOFaultError(err error) bool          { return ErrorCode(err) == ErrCodeIOFault }
func IsPermissionDeniedError(err error) bool { return ErrorCode(err) == ErrCodePermissionDenied }
func IsTimeoutError(err error) bool          { return ErrorCode(err) == ErrCodeTimeout }

// IsArbitrationError checks if an error was raised by the access arbitrator
func IsArbitrationError(err error) bool {
	var ae ArbitrationError
	return errors.As(err, &ae) && ae.IsArbitrationError()
}

// IsTransportError checks if an error was raised on the byte stream path
func IsTransportError(err error) bool {
	var te TransportError
	return errors.As(err, &te) && te.IsTransportError()
}

// IsSyncError checks if an error was raised while talking to the client
func IsSyncError(err error) bool {
	var se SyncError
	return errors.As(err, &se) && se.IsSyncError()
}

// Errno maps an error to the errno a character device would have returned.
// Bus errors that already are errnos pass through.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	switch ErrorCode(err) {
	case ErrCodeBusy:
		return unix.EBUSY
	case ErrCodeNotPermitted, ErrCodePermissionDenied:
		return unix.EPERM
	case ErrCodeBadRequest:
		return unix.EBADRQC
	case ErrCodeInvalidState:
		return unix.EINVAL
	case ErrCodeWouldBlock:
		return unix.EAGAIN
	case ErrCodeCancelled:
		return unix.ECANCELED
	case ErrCodeTimeout:
		return unix.ETIMEDOUT
	case ErrCodeIOFault:
		return unix.EIO
	}
	switch {
	case errors.Is(err, context.Canceled):
		return unix.ECANCELED
	case errors.Is(err, context.DeadlineExceeded):
		return unix.ETIMEDOUT
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}

// ErrnoError is the inverse of Errno, used by clients of the control socket.
func ErrnoError(errno unix.Errno, message string) error {
	switch errno {
	case 0:
		return nil
	case unix.EBUSY:
		return NewBusyError(message)
	case unix.EPERM:
		return NewNotPermittedError(message)
	case unix.EBADRQC:
		return NewBadRequestError(message)
	case unix.EINVAL:
		return NewInvalidStateError(message)
	case unix.EAGAIN:
		return NewWouldBlockError(message)
	case unix.ECANCELED:
		return NewCancelledError(message)
	case unix.ETIMEDOUT:
		return NewTimeoutError(message)
	}
	return NewIOFaultError(message, errno)
}
