package gsusb

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceNotFound    = errors.New("gs_usb device not found")
	ErrEndpointsNotFound = errors.New("required bulk endpoints not found")
	ErrInvalidBitrate    = errors.New("invalid bitrate")
	ErrNotInitialized    = errors.New("device not initialized")
	ErrMalformedFrame    = errors.New("malformed frame")
	ErrBusy              = errors.New("device already initialized or initializing")
	ErrInvalidMode       = errors.New("invalid CAN mode")
	ErrInvalidHex        = errors.New("invalid hex payload")
	ErrDroppedFrame      = errors.New("frame limit reached, frame dropped")
)

// TransferError wraps a failed control or bulk transfer.
type TransferError struct {
	Op      string
	Request int // bRequest for control transfers, -1 for bulk
	Err     error
}

func (e *TransferError) Error() string {
	if e.Request >= 0 {
		return fmt.Sprintf("%s (breq %d) failed: %v", e.Op, e.Request, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func controlError(op string, breq uint8, err error) error {
	return &TransferError{Op: op, Request: int(breq), Err: err}
}

func bulkError(op string, err error) error {
	return &TransferError{Op: op, Request: -1, Err: err}
}
