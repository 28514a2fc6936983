package gsusb

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		canID    uint32
		data     []byte
		echoID   uint32
		channel  uint8
		flags    uint8
		reserved uint8
	}{
		{"empty", 0x123, nil, NoEchoID, 0, 0, 0},
		{"three bytes", 0x7FF, []byte{0x01, 0x02, 0x03}, 7, 1, 0x10, 0xAA},
		{"full extended", 0x18DAF110 | EFFFlag, []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0, 0, 0, 0},
		{"remote", 0x321 | RTRFlag, nil, NoEchoID, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFrame(tt.canID, tt.data)
			f.SetEchoID(tt.echoID)
			f.SetChannel(tt.channel)
			f.SetFlags(tt.flags)
			f.SetReserved(tt.reserved)

			b := f.Encode()
			if len(b) != FrameSize {
				t.Fatalf("Encode() length = %d, want %d", len(b), FrameSize)
			}
			got, err := DecodeFrame(b)
			if err != nil {
				t.Fatalf("DecodeFrame() error = %v", err)
			}
			if got.ArbitrationID() != f.ArbitrationID() {
				t.Errorf("ArbitrationID() = %X, want %X", got.ArbitrationID(), f.ArbitrationID())
			}
			if got.DLC() != uint8(len(tt.data)) {
				t.Errorf("DLC() = %d, want %d", got.DLC(), len(tt.data))
			}
			if got.EchoID() != tt.echoID || got.Channel() != tt.channel || got.Flags() != tt.flags || got.Reserved() != tt.reserved {
				t.Errorf("metadata = %d/%d/%d/%d, want %d/%d/%d/%d",
					got.EchoID(), got.Channel(), got.Flags(), got.Reserved(),
					tt.echoID, tt.channel, tt.flags, tt.reserved)
			}
			if !bytes.Equal(got.Data(), tt.data) && len(tt.data) > 0 {
				t.Errorf("Data() = % 02X, want % 02X", got.Data(), tt.data)
			}
		})
	}
}

func TestFrameWireLayout(t *testing.T) {
	f := NewFrame(0x12345678, []byte{0xDE, 0xAD})
	f.SetEchoID(0x01020304)
	f.SetChannel(0x05)
	f.SetFlags(0x06)
	f.SetReserved(0x07)
	want := []byte{
		0x04, 0x03, 0x02, 0x01,
		0x78, 0x56, 0x34, 0x12,
		0x02, 0x05, 0x06, 0x07,
		0xDE, 0xAD, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	if got := f.Encode(); !bytes.Equal(got, want) {
		t.Errorf("Encode() = % 02X, want % 02X", got, want)
	}
}

func TestDecodeFrameShort(t *testing.T) {
	for n := 0; n < FrameSize; n++ {
		if _, err := DecodeFrame(make([]byte, n)); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("DecodeFrame(%d bytes) error = %v, want ErrMalformedFrame", n, err)
		}
	}
}

func TestDecodeFrameLonger(t *testing.T) {
	b := make([]byte, FrameSizeTimestamp)
	b[8] = 2
	b[12], b[13] = 0xAB, 0xCD
	f, err := DecodeFrame(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(f.Data(), []byte{0xAB, 0xCD}) {
		t.Errorf("Data() = % 02X", f.Data())
	}
}

func TestDecodeDoesNotAlias(t *testing.T) {
	b := NewFrame(0x100, []byte{1}).Encode()
	f, _ := DecodeFrame(b)
	b[12] = 0xFF
	if f.Data()[0] != 1 {
		t.Error("decoded frame shares storage with input buffer")
	}
	f.Data()[0] = 0xEE
	if f.Data()[0] != 1 {
		t.Error("Data() exposes backing storage")
	}
}

func TestArbitrationIDMask(t *testing.T) {
	f := NewFrame(0x9ABCDEF1, nil)
	if got, want := f.ArbitrationID(), uint32(0x9ABCDEF1&0x1FFFFFFF); got != want {
		t.Errorf("ArbitrationID() = %X, want %X", got, want)
	}
	if !f.IsExtended() {
		t.Error("IsExtended() = false, want true")
	}
	if f.IsRemote() {
		t.Error("IsRemote() = true, want false")
	}
	if f.IsError() {
		t.Error("IsError() = true, want false")
	}
}

func TestSetDataClamps(t *testing.T) {
	f := NewFrame(0x1, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	if f.DLC() != 8 {
		t.Errorf("DLC() = %d, want 8", f.DLC())
	}
	if !bytes.Equal(f.Data(), []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("Data() = % 02X", f.Data())
	}

	f.SetData([]byte{0xA, 0xB, 0xC})
	got, _ := DecodeFrame(f.Encode())
	if got.DLC() != 3 || !bytes.Equal(got.Data(), []byte{0xA, 0xB, 0xC}) {
		t.Errorf("after SetData(3 bytes): DLC %d Data % 02X", got.DLC(), got.Data())
	}

	f.SetDLC(200)
	if f.DLC() != 8 {
		t.Errorf("SetDLC(200) gave DLC %d, want 8", f.DLC())
	}
}

func TestDecodedDLCOverEight(t *testing.T) {
	b := make([]byte, FrameSize)
	b[8] = 15
	f, err := DecodeFrame(b)
	if err != nil {
		t.Fatal(err)
	}
	if f.DLC() != 8 || len(f.Data()) != 8 {
		t.Errorf("DLC() = %d, len(Data()) = %d, want 8", f.DLC(), len(f.Data()))
	}
}

func TestFrameString(t *testing.T) {
	tests := []struct {
		name string
		f    *Frame
		want string
	}{
		{"data", NewFrame(0x123, []byte{0x01, 0xab, 0xFF}), "ID: 123 | DLC: [3] | DATA: 01 AB FF"},
		{"empty", NewFrame(0x7df, nil), "ID: 7DF | DLC: [0] | DATA: "},
		{"extended", NewFrame(0x18DAF110|EFFFlag, []byte{0x02}), "ID: 18DAF110 | DLC: [1] | DATA: 02"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRemoteFrameDecode(t *testing.T) {
	b := NewFrame(0x456|RTRFlag, nil).Encode()
	f, err := DecodeFrame(b)
	if err != nil {
		t.Fatal(err)
	}
	if !f.IsRemote() {
		t.Fatal("IsRemote() = false, want true")
	}
	if s := f.String(); !strings.HasSuffix(s, "| DATA: remote request") {
		t.Errorf("String() = %q", s)
	}
}

func TestFrameValues(t *testing.T) {
	f := NewFrame(0x10, []byte{9, 8, 7})
	first := slices.Collect(f.Values())
	second := slices.Collect(f.Values())
	if !bytes.Equal(first, []byte{9, 8, 7}) || !bytes.Equal(first, second) {
		t.Errorf("Values() = %v then %v", first, second)
	}
	var n int
	for range f.Values() {
		n++
		break
	}
	if n != 1 {
		t.Errorf("early break yielded %d values", n)
	}
}

func TestIsEcho(t *testing.T) {
	f := NewFrame(0x1, nil)
	f.SetEchoID(NoEchoID)
	if f.IsEcho() {
		t.Error("IsEcho() = true for NoEchoID")
	}
	f.SetEchoID(3)
	if !f.IsEcho() {
		t.Error("IsEcho() = false for echo id 3")
	}
}
