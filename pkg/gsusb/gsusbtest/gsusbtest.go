// Package gsusbtest provides an in-memory gsusb.Transport that records every
// transfer and lets tests script bulk-in data.
package gsusbtest

import (
	"context"
	"sync"

	"github.com/roffe/gscan/pkg/gsusb"
)

// Default endpoint layout of a candleLight style adapter.
var (
	BulkIn  = gsusb.EndpointDesc{Address: 0x81, Direction: gsusb.DirectionIn, TransferType: gsusb.TransferBulk, MaxPacketSize: 64}
	BulkOut = gsusb.EndpointDesc{Address: 0x02, Direction: gsusb.DirectionOut, TransferType: gsusb.TransferBulk, MaxPacketSize: 64}
)

type Transport struct {
	mu        sync.Mutex
	devices   []gsusb.DeviceInfo
	device    *Device
	openErr   error
	listCalls int
	openCalls int
}

// New returns a transport with one gs_usb device attached.
func New() *Transport {
	return &Transport{
		devices: []gsusb.DeviceInfo{{Bus: 1, Address: 4, Vendor: gsusb.VendorID, Product: gsusb.ProductID, Serial: "0042", Release: "0.02"}},
		device:  NewDevice(),
	}
}

// Empty returns a transport with nothing attached.
func Empty() *Transport {
	return &Transport{device: NewDevice()}
}

func (t *Transport) Device() *Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.device
}

func (t *Transport) SetDevices(devs ...gsusb.DeviceInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.devices = devs
}

// FailOpen makes every Open return err.
func (t *Transport) FailOpen(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openErr = err
}

func (t *Transport) ListCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listCalls
}

func (t *Transport) OpenCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openCalls
}

func (t *Transport) ListDevices(vid, pid uint16) ([]gsusb.DeviceInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listCalls++
	var out []gsusb.DeviceInfo
	for _, d := range t.devices {
		if d.Vendor == vid && d.Product == pid {
			out = append(out, d)
		}
	}
	return out, nil
}

func (t *Transport) Open(gsusb.DeviceInfo) (gsusb.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openCalls++
	if t.openErr != nil {
		return nil, t.openErr
	}
	return t.device, nil
}

type ControlCall struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Data        []byte
}

type Device struct {
	mu         sync.Mutex
	iface      *Interface
	claimErr   error
	controlErr map[uint8]error
	replies    map[uint8][]byte
	holds      map[uint8]chan struct{}
	controls   []ControlCall
	closed     int
	closeErr   error
}

func NewDevice() *Device {
	return &Device{
		iface:      NewInterface(BulkIn, BulkOut),
		controlErr: make(map[uint8]error),
		replies:    make(map[uint8][]byte),
		holds:      make(map[uint8]chan struct{}),
	}
}

func (d *Device) Interface() *Interface {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.iface
}

// SetInterface replaces the interface handed out by ClaimInterface.
func (d *Device) SetInterface(i *Interface) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.iface = i
}

func (d *Device) FailClaim(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claimErr = err
}

// FailControl makes every request breq return err.
func (d *Device) FailControl(breq uint8, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.controlErr[breq] = err
}

func (d *Device) FailClose(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeErr = err
}

// HoldControl makes request breq block, after being recorded, until the
// returned func is called or the request context ends.
func (d *Device) HoldControl(breq uint8) (release func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := make(chan struct{})
	d.holds[breq] = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.holds, breq)
			d.mu.Unlock()
			close(ch)
		})
	}
}

// SetReply sets the data returned by device-to-host request breq.
func (d *Device) SetReply(breq uint8, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replies[breq] = append([]byte(nil), data...)
}

func (d *Device) Controls() []ControlCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ControlCall(nil), d.controls...)
}

func (d *Device) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) ClaimInterface(num int) (gsusb.Interface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.claimErr != nil {
		return nil, d.claimErr
	}
	d.iface.mu.Lock()
	d.iface.num = num
	d.iface.mu.Unlock()
	return d.iface, nil
}

func (d *Device) Control(ctx context.Context, requestType, request uint8, value, index uint16, data []byte) (int, error) {
	d.mu.Lock()
	if err := ctx.Err(); err != nil {
		d.mu.Unlock()
		return 0, err
	}
	d.controls = append(d.controls, ControlCall{
		RequestType: requestType,
		Request:     request,
		Value:       value,
		Index:       index,
		Data:        append([]byte(nil), data...),
	})
	hold := d.holds[request]
	d.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.controlErr[request]; err != nil {
		return 0, err
	}
	if requestType&0x80 != 0 {
		return copy(data, d.replies[request]), nil
	}
	return len(data), nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return d.closeErr
}

type readResult struct {
	data []byte
	err  error
}

type Interface struct {
	mu         sync.Mutex
	num        int
	eps        []gsusb.EndpointDesc
	rx         chan readResult
	writes     [][]byte
	writeErr   error
	released   int
	releaseErr error
	reads      int
}

func NewInterface(eps ...gsusb.EndpointDesc) *Interface {
	return &Interface{
		eps: eps,
		rx:  make(chan readResult, 1024),
	}
}

// Push queues buf as the result of one bulk-in read.
func (i *Interface) Push(buf []byte) {
	i.rx <- readResult{data: append([]byte(nil), buf...)}
}

// PushError queues a failed bulk-in read.
func (i *Interface) PushError(err error) {
	i.rx <- readResult{err: err}
}

func (i *Interface) FailWrite(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.writeErr = err
}

func (i *Interface) FailRelease(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.releaseErr = err
}

func (i *Interface) Writes() [][]byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([][]byte(nil), i.writes...)
}

func (i *Interface) Released() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.released
}

// Reads counts bulk-in reads that returned a queued result.
func (i *Interface) Reads() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.reads
}

func (i *Interface) Number() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.num
}

func (i *Interface) Endpoints() []gsusb.EndpointDesc {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]gsusb.EndpointDesc(nil), i.eps...)
}

func (i *Interface) Read(ctx context.Context, _ gsusb.EndpointDesc, buf []byte) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-i.rx:
		i.mu.Lock()
		i.reads++
		i.mu.Unlock()
		if r.err != nil {
			return 0, r.err
		}
		return copy(buf, r.data), nil
	}
}

func (i *Interface) Write(ctx context.Context, _ gsusb.EndpointDesc, buf []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if i.writeErr != nil {
		return 0, i.writeErr
	}
	i.writes = append(i.writes, append([]byte(nil), buf...))
	return len(buf), nil
}

func (i *Interface) Release() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.released++
	return i.releaseErr
}
