package gsusb

import (
	"encoding/binary"
	"fmt"
	"iter"
	"strings"
)

// Frame is a gs_usb host frame. It owns its 20 byte wire image and every
// accessor reads or writes that image at fixed offsets:
//
//	0:4   echo_id   LE
//	4:8   can_id    LE
//	8     can_dlc
//	9     channel
//	10    flags
//	11    reserved
//	12:20 data
type Frame struct {
	buf [FrameSize]byte
}

// NewFrame creates a frame with canID and up to 8 bytes of data.
// The echo id starts at 0, callers sending the frame set NoEchoID.
func NewFrame(canID uint32, data []byte) *Frame {
	f := &Frame{}
	f.SetCanID(canID)
	f.SetData(data)
	return f
}

// DecodeFrame copies the first FrameSize bytes of b into a new Frame.
func DecodeFrame(b []byte) (*Frame, error) {
	if len(b) < FrameSize {
		return nil, fmt.Errorf("%w: buffer length %d, expected %d", ErrMalformedFrame, len(b), FrameSize)
	}
	f := &Frame{}
	copy(f.buf[:], b[:FrameSize])
	return f, nil
}

// Encode returns a copy of the wire image.
func (f *Frame) Encode() []byte {
	out := make([]byte, FrameSize)
	copy(out, f.buf[:])
	return out
}

func (f *Frame) EchoID() uint32 { return binary.LittleEndian.Uint32(f.buf[0:4]) }

func (f *Frame) SetEchoID(v uint32) { binary.LittleEndian.PutUint32(f.buf[0:4], v) }

// CanID is the raw id field including flag bits.
func (f *Frame) CanID() uint32 { return binary.LittleEndian.Uint32(f.buf[4:8]) }

func (f *Frame) SetCanID(v uint32) { binary.LittleEndian.PutUint32(f.buf[4:8], v) }

// DLC never reports more than MaxDLC, even for a device supplied image.
func (f *Frame) DLC() uint8 { return min(f.buf[8], MaxDLC) }

// SetDLC clamps v to MaxDLC.
func (f *Frame) SetDLC(v int) {
	if v < 0 {
		v = 0
	}
	f.buf[8] = uint8(min(v, MaxDLC))
}

func (f *Frame) Channel() uint8 { return f.buf[9] }

func (f *Frame) SetChannel(v uint8) { f.buf[9] = v }

func (f *Frame) Flags() uint8 { return f.buf[10] }

func (f *Frame) SetFlags(v uint8) { f.buf[10] = v }

func (f *Frame) Reserved() uint8 { return f.buf[11] }

func (f *Frame) SetReserved(v uint8) { f.buf[11] = v }

// Payload returns the full 8 byte data field, bytes past DLC included.
func (f *Frame) Payload() [MaxDLC]byte {
	var p [MaxDLC]byte
	copy(p[:], f.buf[12:FrameSize])
	return p
}

// Data returns a copy of the valid payload bytes.
func (f *Frame) Data() []byte {
	out := make([]byte, f.DLC())
	copy(out, f.buf[12:])
	return out
}

// SetData copies at most 8 bytes and sets DLC to min(len(data), 8).
// Bytes past len(data) keep whatever they held before.
func (f *Frame) SetData(data []byte) {
	copy(f.buf[12:FrameSize], data)
	f.SetDLC(len(data))
}

func (f *Frame) ArbitrationID() uint32 { return f.CanID() & EFFMask }

func (f *Frame) IsExtended() bool { return f.CanID()&EFFFlag != 0 }

func (f *Frame) IsRemote() bool { return f.CanID()&RTRFlag != 0 }

func (f *Frame) IsError() bool { return f.CanID()&ERRFlag != 0 }

// IsEcho reports whether the frame is the device echo of a transmitted frame.
func (f *Frame) IsEcho() bool { return f.EchoID() != NoEchoID }

// Values yields the valid payload bytes. Each call starts over.
func (f *Frame) Values() iter.Seq[byte] {
	return func(yield func(byte) bool) {
		for _, b := range f.buf[12 : 12+int(f.DLC())] {
			if !yield(b) {
				return
			}
		}
	}
}

func (f *Frame) String() string {
	var data string
	if f.IsRemote() {
		data = "remote request"
	} else {
		var hexView strings.Builder
		for i, b := range f.buf[12 : 12+int(f.DLC())] {
			if i > 0 {
				hexView.WriteByte(' ')
			}
			fmt.Fprintf(&hexView, "%02X", b)
		}
		data = hexView.String()
	}
	return fmt.Sprintf("ID: %X | DLC: [%d] | DATA: %s", f.ArbitrationID(), f.DLC(), data)
}
