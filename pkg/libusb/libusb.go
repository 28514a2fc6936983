// Package libusb implements gsusb.Transport on top of libusb (google/gousb)
// and registers the "gs_usb" adapter.
package libusb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/albenik/bcd"
	"github.com/google/gousb"
	"github.com/google/gousb/usbid"
	"github.com/roffe/gscan"
	"github.com/roffe/gscan/pkg/gsusb"
)

func init() {
	if err := gscan.RegisterAdapter(&gscan.AdapterInfo{
		Name:               "gs_usb",
		Description:        "candleLight / gs_usb, libusb driver",
		RequiresSerialPort: false,
		Capabilities:       gscan.AdapterCapabilities{HSCAN: true},
		New: func(cfg *gscan.AdapterConfig) (gscan.Adapter, error) {
			return gscan.NewGSUSB(cfg, NewTransport()), nil
		},
	}); err != nil {
		panic(err)
	}
}

const defaultControlTimeout = time.Second

type Transport struct {
	mu     sync.Mutex
	usbCtx *gousb.Context
	debug  int
}

func NewTransport() *Transport {
	return &Transport{}
}

// SetDebug sets the libusb log level, 0 (off) to 4 (debug).
func (t *Transport) SetDebug(level int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.debug = level
	if t.usbCtx != nil {
		t.usbCtx.Debug(level)
	}
}

func (t *Transport) context() *gousb.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.usbCtx == nil {
		t.usbCtx = gousb.NewContext()
		t.usbCtx.Debug(t.debug)
	}
	return t.usbCtx
}

// Close releases the libusb context. Devices must be closed first.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.usbCtx == nil {
		return nil
	}
	err := t.usbCtx.Close()
	t.usbCtx = nil
	return err
}

func (t *Transport) ListDevices(vid, pid uint16) ([]gsusb.DeviceInfo, error) {
	var out []gsusb.DeviceInfo
	// Returning false keeps OpenDevices from opening anything.
	_, err := t.context().OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if uint16(desc.Vendor) == vid && uint16(desc.Product) == pid {
			out = append(out, deviceInfo(desc))
		}
		return false
	})
	if err != nil {
		return out, fmt.Errorf("list devices: %w", err)
	}
	return out, nil
}

func (t *Transport) Open(info gsusb.DeviceInfo) (gsusb.Device, error) {
	devs, err := t.context().OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == info.Bus && desc.Address == info.Address &&
			uint16(desc.Vendor) == info.Vendor && uint16(desc.Product) == info.Product
	})
	if err != nil {
		for _, d := range devs {
			d.Close()
		}
		return nil, err
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("device %s gone", info)
	}
	for _, d := range devs[1:] {
		d.Close()
	}
	return &device{dev: devs[0]}, nil
}

// Describe lists every gs_usb device with usbid descriptions.
func (t *Transport) Describe() ([]string, error) {
	var out []string
	_, err := t.context().OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if uint16(desc.Vendor) != gsusb.VendorID || uint16(desc.Product) != gsusb.ProductID {
			return false
		}
		out = append(out, fmt.Sprintf("%s %s", deviceInfo(desc), usbid.Describe(desc)))
		out = append(out, fmt.Sprintf("  Protocol: %s", usbid.Classify(desc)))
		for _, cfg := range desc.Configs {
			out = append(out, fmt.Sprintf("  %s:", cfg))
			for _, intf := range cfg.Interfaces {
				for _, alt := range intf.AltSettings {
					out = append(out, fmt.Sprintf("    %s", alt))
					for _, ep := range alt.Endpoints {
						out = append(out, fmt.Sprintf("      %s", ep))
					}
				}
			}
		}
		return false
	})
	return out, err
}

func deviceInfo(desc *gousb.DeviceDesc) gsusb.DeviceInfo {
	return gsusb.DeviceInfo{
		Bus:     desc.Bus,
		Address: desc.Address,
		Vendor:  uint16(desc.Vendor),
		Product: uint16(desc.Product),
		Release: release(uint16(desc.Device)),
	}
}

// release renders a bcdDevice value, 0x0102 -> "1.02".
func release(raw uint16) string {
	v := bcd.ToUint16([]byte{byte(raw >> 8), byte(raw)})
	return fmt.Sprintf("%d.%02d", v/100, v%100)
}

type device struct {
	mu  sync.Mutex
	dev *gousb.Device
}

func (d *device) ClaimInterface(num int) (gsusb.Interface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Detaches the kernel driver on claim where libusb supports it.
	if err := d.dev.SetAutoDetach(true); err != nil && !errors.Is(err, gousb.ErrorNotSupported) {
		return nil, fmt.Errorf("set auto detach: %w", err)
	}

	cfgNum, err := d.dev.ActiveConfigNum()
	if err != nil || cfgNum == 0 {
		cfgNum = 1
	}
	cfg, err := d.dev.Config(cfgNum)
	if err != nil {
		return nil, fmt.Errorf("config %d: %w", cfgNum, err)
	}
	intf, err := cfg.Interface(num, 0)
	if err != nil {
		cfg.Close()
		return nil, fmt.Errorf("interface %d: %w", num, err)
	}
	return &iface{
		cfg:  cfg,
		intf: intf,
		in:   make(map[int]*gousb.InEndpoint),
		out:  make(map[int]*gousb.OutEndpoint),
	}, nil
}

func (d *device) Control(ctx context.Context, requestType, request uint8, value, index uint16, data []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.dev.ControlTimeout = defaultControlTimeout
	if deadline, ok := ctx.Deadline(); ok {
		d.dev.ControlTimeout = time.Until(deadline)
	}
	return d.dev.Control(requestType, request, value, index, data)
}

func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dev.Close()
}

type iface struct {
	cfg  *gousb.Config
	intf *gousb.Interface

	mu  sync.Mutex
	in  map[int]*gousb.InEndpoint
	out map[int]*gousb.OutEndpoint
}

func (i *iface) Number() int {
	return i.intf.Setting.Number
}

func (i *iface) Endpoints() []gsusb.EndpointDesc {
	var out []gsusb.EndpointDesc
	for _, ep := range i.intf.Setting.Endpoints {
		dir := gsusb.DirectionOut
		if ep.Direction == gousb.EndpointDirectionIn {
			dir = gsusb.DirectionIn
		}
		out = append(out, gsusb.EndpointDesc{
			Address:       uint8(ep.Address),
			Direction:     dir,
			TransferType:  transferType(ep.TransferType),
			MaxPacketSize: ep.MaxPacketSize,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Address < out[b].Address })
	return out
}

func transferType(t gousb.TransferType) gsusb.TransferType {
	switch t {
	case gousb.TransferTypeIsochronous:
		return gsusb.TransferIsochronous
	case gousb.TransferTypeBulk:
		return gsusb.TransferBulk
	case gousb.TransferTypeInterrupt:
		return gsusb.TransferInterrupt
	default:
		return gsusb.TransferControl
	}
}

func (i *iface) Read(ctx context.Context, ep gsusb.EndpointDesc, buf []byte) (int, error) {
	num := int(ep.Address & 0x0f)
	i.mu.Lock()
	in, ok := i.in[num]
	if !ok {
		var err error
		in, err = i.intf.InEndpoint(num)
		if err != nil {
			i.mu.Unlock()
			return 0, fmt.Errorf("InEndpoint(%d): %w", num, err)
		}
		i.in[num] = in
	}
	i.mu.Unlock()
	return in.ReadContext(ctx, buf)
}

func (i *iface) Write(ctx context.Context, ep gsusb.EndpointDesc, buf []byte) (int, error) {
	num := int(ep.Address & 0x0f)
	i.mu.Lock()
	out, ok := i.out[num]
	if !ok {
		var err error
		out, err = i.intf.OutEndpoint(num)
		if err != nil {
			i.mu.Unlock()
			return 0, fmt.Errorf("OutEndpoint(%d): %w", num, err)
		}
		i.out[num] = out
	}
	i.mu.Unlock()
	return out.WriteContext(ctx, buf)
}

func (i *iface) Release() error {
	i.intf.Close()
	return i.cfg.Close()
}
