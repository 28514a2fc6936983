package gscan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/roffe/gscan/pkg/gsusb"
	"golang.org/x/mod/semver"
)

var _ Adapter = (*GSUSB)(nil)

// GSUSB bridges a gsusb.Controller to the Adapter channels.
type GSUSB struct {
	*BaseAdapter
	transport gsusb.Transport
	ctrl      *gsusb.Controller
	filter    map[uint32]struct{}

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewGSUSB(cfg *AdapterConfig, t gsusb.Transport) *GSUSB {
	base := NewBaseAdapter("gs_usb", cfg)
	g := &GSUSB{
		BaseAdapter: base,
		transport:   t,
		ctrl: gsusb.NewController(t,
			gsusb.OptOnMessage(base.cfg.OnMessage),
			gsusb.OptDebug(base.cfg.Debug),
		),
	}
	if len(base.cfg.CANFilter) > 0 {
		g.filter = make(map[uint32]struct{}, len(base.cfg.CANFilter))
		for _, id := range base.cfg.CANFilter {
			g.filter[id] = struct{}{}
		}
	}
	return g
}

// Controller exposes the underlying device controller.
func (g *GSUSB) Controller() *gsusb.Controller {
	return g.ctrl
}

func (g *GSUSB) Stats() gsusb.Stats {
	return g.ctrl.Stats()
}

func (g *GSUSB) Open(ctx context.Context) error {
	mode := gsusb.Normal
	if g.cfg.ListenOnly {
		mode = gsusb.ListenOnly
	}
	if err := g.ctrl.Init(ctx, gsusb.Options{
		Retries: g.cfg.Retries,
		Mode:    mode,
		Bitrate: uint32(g.cfg.CANRate * 1000),
	}); err != nil {
		return err
	}

	if g.cfg.PrintVersion || g.cfg.MinimumFirmwareVersion != "" {
		if err := g.checkFirmware(ctx); err != nil {
			g.ctrl.Cleanup()
			return err
		}
	}

	rctx, cancel := context.WithCancel(ctx)
	if err := g.ctrl.StartListening(rctx); err != nil {
		cancel()
		g.ctrl.Cleanup()
		return err
	}
	g.cancel = cancel

	g.wg.Add(2)
	go g.recvManager(rctx)
	go g.sendManager(rctx)
	return nil
}

func (g *GSUSB) checkFirmware(ctx context.Context) error {
	dc, err := g.ctrl.DeviceConfig(ctx)
	if err != nil {
		if g.cfg.MinimumFirmwareVersion == "" {
			g.Warn(fmt.Sprintf("failed to read device config: %v", err))
			return nil
		}
		return fmt.Errorf("read device config: %w", err)
	}
	if g.cfg.PrintVersion {
		g.Info(dc.String())
	}
	if g.cfg.MinimumFirmwareVersion == "" {
		return nil
	}
	want := "v" + strings.TrimPrefix(g.cfg.MinimumFirmwareVersion, "v")
	if !semver.IsValid(want) {
		return fmt.Errorf("invalid minimum firmware version %q", g.cfg.MinimumFirmwareVersion)
	}
	have := fmt.Sprintf("v%d", dc.SWVersion)
	if semver.Compare(have, want) < 0 {
		return fmt.Errorf("firmware version %d is older than required %s", dc.SWVersion, g.cfg.MinimumFirmwareVersion)
	}
	return nil
}

func (g *GSUSB) recvManager(ctx context.Context) {
	defer g.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.closeChan:
			return
		case <-g.ctrl.Connected():
			g.Info(fmt.Sprintf("connected at %d kbit/s", g.ctrl.Bitrate()/1000))
		case err := <-g.ctrl.Errors():
			g.Error(err)
		case f := <-g.ctrl.Frames():
			g.handleFrame(ctx, f)
		}
	}
}

// handleFrame blocks until the frame is taken; the controller keeps queueing
// behind it meanwhile.
func (g *GSUSB) handleFrame(ctx context.Context, f *gsusb.Frame) {
	if f.IsError() {
		g.sendEvent(EventTypeBusError, f.String())
		return
	}
	if f.IsEcho() {
		g.Debug(fmt.Sprintf("tx echo %d: %s", f.EchoID(), f))
		return
	}
	id := f.ArbitrationID()
	if g.filter != nil {
		if _, ok := g.filter[id]; !ok {
			return
		}
	}
	frame := NewFrame(id, f.Data(), Incoming)
	frame.Extended = f.IsExtended()
	frame.RTR = f.IsRemote()
	select {
	case g.recvChan <- frame:
	case <-ctx.Done():
	case <-g.closeChan:
	}
}

func (g *GSUSB) sendManager(ctx context.Context) {
	defer g.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.closeChan:
			return
		case frame := <-g.sendChan:
			if err := g.ctrl.SendFrame(ctx, toWire(frame)); err != nil {
				if errors.Is(err, gsusb.ErrNotInitialized) {
					g.Fatal(Unrecoverable(err))
					return
				}
				g.Error(fmt.Errorf("failed to send frame: %w", err))
			}
		}
	}
}

func toWire(frame *CANFrame) *gsusb.Frame {
	id := frame.Identifier & gsusb.SFFMask
	if frame.Extended || frame.Identifier > gsusb.SFFMask {
		id = frame.Identifier&gsusb.EFFMask | gsusb.EFFFlag
	}
	if frame.RTR {
		id |= gsusb.RTRFlag
	}
	f := gsusb.NewFrame(id, frame.Data)
	f.SetEchoID(gsusb.NoEchoID)
	return f
}

func (g *GSUSB) Close() error {
	g.BaseAdapter.Close()
	var err error
	g.closeOnce.Do(func() {
		if g.cancel != nil {
			g.cancel()
		}
		g.wg.Wait()
		g.ctrl.Cleanup()
		if c, ok := g.transport.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
