package transport

import (
	"errors"
	"fmt"
	"sync"
)

// Error codes.
const (
	ErrCodeResourceAcquisition = "RESOURCE_ACQUISITION"
	ErrCodeConfiguration       = "CONFIGURATION"
	ErrCodeInvalidState        = "INVALID_STATE"
)

// Error is a construction or lifecycle failure. Transient faults during
// streaming are never reported this way.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a transport error.
func NewError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// IsCode reports whether err is a transport Error with the given code.
func IsCode(err error, code string) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == code
}

// LastError keeps the text of the most recent failure for LastError.
type LastError struct {
	mu  sync.Mutex
	msg string
}

// Record stores err and returns it unchanged.
func (l *LastError) Record(err error) error {
	if err != nil {
		l.mu.Lock()
		l.msg = err.Error()
		l.mu.Unlock()
	}
	return err
}

// String returns the recorded text.
func (l *LastError) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.msg
}
