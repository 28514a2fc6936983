package gscan_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roffe/gscan"
	"github.com/roffe/gscan/pkg/gsusb"
	"github.com/roffe/gscan/pkg/gsusb/gsusbtest"
)

func newClient(t *testing.T) (*gscan.Client, *gsusbtest.Transport) {
	t.Helper()
	tr := gsusbtest.New()
	c, err := gscan.NewWithAdapter(context.Background(), gscan.NewGSUSB(&gscan.AdapterConfig{OnMessage: quiet(t)}, tr))
	if err != nil {
		t.Fatalf("NewWithAdapter() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, tr
}

func TestNewWithNilAdapter(t *testing.T) {
	if _, err := gscan.NewWithAdapter(context.Background(), nil); !errors.Is(err, gscan.ErrNillAdapter) {
		t.Errorf("error = %v, want ErrNillAdapter", err)
	}
}

func TestNewUnknownAdapter(t *testing.T) {
	if _, err := gscan.New(context.Background(), "no-such-adapter", nil); err == nil {
		t.Error("New() with unknown adapter returned nil error")
	}
}

func TestClientSubscribe(t *testing.T) {
	c, tr := newClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	filtered := c.Subscribe(ctx, 0x123)
	all := c.Subscribe(ctx)

	iface := tr.Device().Interface()
	iface.Push(wireFrame(0x100, gsusb.NoEchoID, 0x01))
	iface.Push(wireFrame(0x123, gsusb.NoEchoID, 0x02))

	select {
	case f := <-filtered.Chan():
		if f.Identifier != 0x123 {
			t.Errorf("filtered subscriber got %03X", f.Identifier)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("filtered subscriber got nothing")
	}
	for _, want := range []uint32{0x100, 0x123} {
		select {
		case f := <-all.Chan():
			if f.Identifier != want {
				t.Errorf("global subscriber got %03X, want %03X", f.Identifier, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("global subscriber missing %03X", want)
		}
	}

	cancel()
	select {
	case _, ok := <-filtered.Chan():
		if ok {
			t.Error("subscriber channel delivered after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Error("subscriber channel not closed after cancel")
	}
}

func TestClientWaitTimeout(t *testing.T) {
	c, _ := newClient(t)
	_, err := c.Wait(context.Background(), 20*time.Millisecond, 0x7E8)
	var te *gscan.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Wait() error = %v, want *TimeoutError", err)
	}
	if te.Timeout != 20 || len(te.Frames) != 1 || te.Frames[0] != 0x7E8 {
		t.Errorf("TimeoutError = %+v", te)
	}
}

func TestClientWait(t *testing.T) {
	c, tr := newClient(t)
	go func() {
		time.Sleep(20 * time.Millisecond)
		tr.Device().Interface().Push(wireFrame(0x7E8, gsusb.NoEchoID, 0x06, 0x50, 0x01))
	}()
	f, err := c.Wait(context.Background(), 2*time.Second, 0x7E8)
	if err != nil {
		t.Fatal(err)
	}
	if f.DLC() != 3 {
		t.Errorf("DLC() = %d, want 3", f.DLC())
	}
}

func TestClientSendFrame(t *testing.T) {
	c, tr := newClient(t)
	if err := c.SendFrame(0x7DF, []byte{0x02, 0x01, 0x00}, gscan.Outgoing); err != nil {
		t.Fatal(err)
	}
	w := waitWrites(t, tr.Device().Interface(), 1)
	f, _ := gsusb.DecodeFrame(w[0])
	if f.ArbitrationID() != 0x7DF || f.IsExtended() {
		t.Errorf("sent %s", f)
	}
}
