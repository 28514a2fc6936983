package gscan_test

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/roffe/gscan"
	"github.com/roffe/gscan/pkg/gsusb"
	"github.com/roffe/gscan/pkg/gsusb/gsusbtest"
)

func quiet(t *testing.T) func(string) {
	return func(msg string) { t.Log(msg) }
}

func openGSUSB(t *testing.T, cfg *gscan.AdapterConfig) (*gscan.GSUSB, *gsusbtest.Transport) {
	t.Helper()
	if cfg.OnMessage == nil {
		cfg.OnMessage = quiet(t)
	}
	tr := gsusbtest.New()
	a := gscan.NewGSUSB(cfg, tr)
	if err := a.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, tr
}

func wireFrame(canID uint32, echoID uint32, data ...byte) []byte {
	f := gsusb.NewFrame(canID, data)
	f.SetEchoID(echoID)
	return f.Encode()
}

func recv(t *testing.T, a gscan.Adapter) *gscan.CANFrame {
	t.Helper()
	select {
	case f := <-a.Recv():
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return nil
}

func waitWrites(t *testing.T, iface *gsusbtest.Interface, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w := iface.Writes(); len(w) >= n {
			return w
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d writes", n)
	return nil
}

func deviceConfigReply(sw uint32) []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint32(b[4:], sw)
	binary.LittleEndian.PutUint32(b[8:], 1)
	return b
}

func TestGSUSBSend(t *testing.T) {
	tests := []struct {
		name   string
		frame  *gscan.CANFrame
		wantID uint32
	}{
		{"standard", gscan.NewFrame(0x7E0, []byte{0x02, 0x10, 0x01}, gscan.Outgoing), 0x7E0},
		{"extended", gscan.NewExtendedFrame(0x18DAF110, []byte{0x01}, gscan.Outgoing), 0x18DAF110 | gsusb.EFFFlag},
		{"wide id", gscan.NewFrame(0x1234, nil, gscan.Outgoing), 0x1234 | gsusb.EFFFlag},
		{"remote", &gscan.CANFrame{Identifier: 0x321, RTR: true}, 0x321 | gsusb.RTRFlag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, tr := openGSUSB(t, &gscan.AdapterConfig{})
			a.Send() <- tt.frame

			w := waitWrites(t, tr.Device().Interface(), 1)
			f, err := gsusb.DecodeFrame(w[0])
			if err != nil {
				t.Fatal(err)
			}
			if f.CanID() != tt.wantID {
				t.Errorf("CanID() = %08X, want %08X", f.CanID(), tt.wantID)
			}
			if f.EchoID() != gsusb.NoEchoID {
				t.Errorf("EchoID() = %08X, want %08X", f.EchoID(), gsusb.NoEchoID)
			}
			if int(f.DLC()) != len(tt.frame.Data) {
				t.Errorf("DLC() = %d, want %d", f.DLC(), len(tt.frame.Data))
			}
			deadline := time.Now().Add(time.Second)
			for a.Stats().SentFrames != 1 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			if st := a.Stats(); st.SentFrames != 1 {
				t.Errorf("SentFrames = %d, want 1", st.SentFrames)
			}
		})
	}
}

func TestGSUSBRecv(t *testing.T) {
	a, tr := openGSUSB(t, &gscan.AdapterConfig{})
	iface := tr.Device().Interface()
	iface.Push(wireFrame(0x18DAF110|gsusb.EFFFlag, gsusb.NoEchoID, 0xAA, 0xBB))
	iface.Push(wireFrame(0x123, gsusb.NoEchoID, 0x01))

	f := recv(t, a)
	if f.Identifier != 0x18DAF110 || !f.Extended || f.DLC() != 2 || f.FrameType != gscan.Incoming {
		t.Errorf("first frame = %+v", f)
	}
	f = recv(t, a)
	if f.Identifier != 0x123 || f.Extended || f.Data[0] != 0x01 {
		t.Errorf("second frame = %+v", f)
	}
}

func TestGSUSBFilter(t *testing.T) {
	a, tr := openGSUSB(t, &gscan.AdapterConfig{CANFilter: []uint32{0x200}})
	iface := tr.Device().Interface()
	iface.Push(wireFrame(0x123, gsusb.NoEchoID, 0x01))
	iface.Push(wireFrame(0x200, gsusb.NoEchoID, 0x02))

	if f := recv(t, a); f.Identifier != 0x200 {
		t.Errorf("Identifier = %03X, want 200", f.Identifier)
	}
}

func TestGSUSBRecvBacklog(t *testing.T) {
	const n = 2100
	a, tr := openGSUSB(t, &gscan.AdapterConfig{})
	iface := tr.Device().Interface()
	for i := 0; i < n; i++ {
		iface.Push(wireFrame(uint32(i)|gsusb.EFFFlag, gsusb.NoEchoID, byte(i>>8), byte(i)))
	}
	deadline := time.Now().Add(2 * time.Second)
	for a.Stats().RecvFrames != n && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	for i := 0; i < n; i++ {
		f := recv(t, a)
		if f.Identifier != uint32(i) {
			t.Fatalf("frame %d: Identifier = %X, want %X", i, f.Identifier, i)
		}
	}
	if st := a.Stats(); st.DroppedFrames != 0 || st.Errors != 0 {
		t.Errorf("Stats() = %s, want no drops or errors", st)
	}
}

func TestGSUSBSkipsEchoes(t *testing.T) {
	a, tr := openGSUSB(t, &gscan.AdapterConfig{})
	iface := tr.Device().Interface()
	iface.Push(wireFrame(0x100, 3, 0x01))
	iface.Push(wireFrame(0x101, gsusb.NoEchoID, 0x02))

	if f := recv(t, a); f.Identifier != 0x101 {
		t.Errorf("Identifier = %03X, want 101", f.Identifier)
	}
}

func TestGSUSBErrorFrameEvent(t *testing.T) {
	a, tr := openGSUSB(t, &gscan.AdapterConfig{})
	tr.Device().Interface().Push(wireFrame(0x004|gsusb.ERRFlag, gsusb.NoEchoID, 0, 0x04))

	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-a.Event():
			if e.Type == gscan.EventTypeBusError {
				return
			}
		case f := <-a.Recv():
			t.Fatalf("error frame delivered as data: %v", f)
		case <-timeout:
			t.Fatal("no bus error event")
		}
	}
}

func TestGSUSBTransferErrorEvent(t *testing.T) {
	a, tr := openGSUSB(t, &gscan.AdapterConfig{})
	tr.Device().Interface().PushError(errors.New("babble"))

	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-a.Event():
			if e.Type == gscan.EventTypeError {
				return
			}
		case <-timeout:
			t.Fatal("no error event")
		}
	}
}

func TestGSUSBOpenListenOnly(t *testing.T) {
	_, tr := openGSUSB(t, &gscan.AdapterConfig{ListenOnly: true, CANRate: 250})
	controls := tr.Device().Controls()
	if len(controls) != 4 {
		t.Fatalf("got %d control transfers, want 4", len(controls))
	}
	start := controls[3]
	if start.Request != gsusb.BreqMode || binary.LittleEndian.Uint32(start.Data[4:]) != gsusb.CANModeListenOnly {
		t.Errorf("start request = %+v", start)
	}
	bt := controls[2]
	if bt.Request != gsusb.BreqBitTiming || binary.LittleEndian.Uint32(bt.Data[16:]) != 12 {
		t.Errorf("bit timing request = %+v", bt)
	}
}

func TestGSUSBDeviceNotFound(t *testing.T) {
	a := gscan.NewGSUSB(&gscan.AdapterConfig{Retries: 1, OnMessage: quiet(t)}, gsusbtest.Empty())
	if err := a.Open(context.Background()); !errors.Is(err, gsusb.ErrDeviceNotFound) {
		t.Fatalf("Open() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestGSUSBFirmwareGate(t *testing.T) {
	tests := []struct {
		name    string
		min     string
		wantErr bool
	}{
		{"older", "3", true},
		{"equal", "2", false},
		{"v prefix", "v1", false},
		{"invalid", "abc", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := gsusbtest.New()
			tr.Device().SetReply(gsusb.BreqDeviceConfig, deviceConfigReply(2))
			a := gscan.NewGSUSB(&gscan.AdapterConfig{MinimumFirmwareVersion: tt.min, OnMessage: quiet(t)}, tr)
			err := a.Open(context.Background())
			defer a.Close()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if a.Controller().State() != gsusb.StateDisconnected {
					t.Errorf("State() = %s after failed open", a.Controller().State())
				}
				if tr.Device().Closed() != 1 {
					t.Errorf("device closed %d times, want 1", tr.Device().Closed())
				}
			}
		})
	}
}

func TestGSUSBPrintVersion(t *testing.T) {
	tr := gsusbtest.New()
	tr.Device().SetReply(gsusb.BreqDeviceConfig, deviceConfigReply(7))
	a := gscan.NewGSUSB(&gscan.AdapterConfig{PrintVersion: true, OnMessage: quiet(t)}, tr)
	if err := a.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	select {
	case e := <-a.Event():
		if e.Type != gscan.EventTypeInfo || e.Details != "channels: 1, sw version: 7, hw version: 1" {
			t.Errorf("event = %v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no version event")
	}
}

func TestGSUSBClose(t *testing.T) {
	tr := gsusbtest.New()
	a := gscan.NewGSUSB(&gscan.AdapterConfig{OnMessage: quiet(t)}, tr)
	if err := a.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if a.Controller().State() != gsusb.StateDisconnected {
		t.Errorf("State() = %s, want disconnected", a.Controller().State())
	}
	if tr.Device().Closed() != 1 || tr.Device().Interface().Released() != 1 {
		t.Errorf("closed %d released %d, want 1/1", tr.Device().Closed(), tr.Device().Interface().Released())
	}
	select {
	case err := <-a.Err():
		if err != nil {
			t.Errorf("Err() = %v, want nil", err)
		}
	default:
		t.Error("Err() has no close notification")
	}
}
