package gscan

import (
	"errors"
	"fmt"
	"strings"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable checks if err is or wraps an `unrecoverableError`
func IsRecoverable(err error) bool {
	var ue unrecoverableError
	return !errors.As(err, &ue)
}

var (
	ErrNillAdapter           = errors.New("adapter is nil")
	ErrSendTimeout           = errors.New("timeout sending frame")
	ErrResponsechannelClosed = errors.New("response channel closed")
)

type TimeoutError struct {
	Timeout int64
	Frames  []uint32
	Type    string
}

func (e *TimeoutError) Error() string {
	ids := make([]string, len(e.Frames))
	for i, id := range e.Frames {
		ids[i] = fmt.Sprintf("0x%03X", id)
	}
	return fmt.Sprintf("%s timeout (%dms) for frame %s", e.Type, e.Timeout, strings.Join(ids, ", "))
}
