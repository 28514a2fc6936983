package gsusb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
)

// Fixed delays. Tests shorten them through export_test.go.
var (
	discoveryBackoff = 1 * time.Second
	receiveBackoff   = 100 * time.Millisecond
	controlTimeout   = 1 * time.Second
	shutdownTimeout  = 500 * time.Millisecond
)

var errNoMatch = errors.New("no matching device")

type Mode int

const (
	Normal Mode = iota
	ListenOnly
)

func (m Mode) String() string {
	switch m {
	case Normal:
		return "normal"
	case ListenOnly:
		return "listenOnly"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "normal" and "listenOnly" (case insensitive, "listen-only" too).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "")) {
	case "", "normal":
		return Normal, nil
	case "listenonly":
		return ListenOnly, nil
	}
	return Normal, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

func (m Mode) canMode() (uint32, error) {
	switch m {
	case Normal:
		return CANModeNormal, nil
	case ListenOnly:
		return CANModeListenOnly, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrInvalidMode, m)
}

type Options struct {
	Retries int    // discovery attempts, DefaultRetries when <= 0
	Mode    Mode   // Normal or ListenOnly
	Bitrate uint32 // bps, DefaultBitrate when 0
}

func (o Options) withDefaults() Options {
	if o.Retries <= 0 {
		o.Retries = DefaultRetries
	}
	if o.Bitrate == 0 {
		o.Bitrate = DefaultBitrate
	}
	return o
}

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

type ControllerOpt func(c *Controller)

// OptOnMessage routes controller log lines to fn.
func OptOnMessage(fn func(string)) ControllerOpt {
	return func(c *Controller) {
		if fn != nil {
			c.onMessage = fn
		}
	}
}

func OptDebug(enabled bool) ControllerOpt {
	return func(c *Controller) {
		c.debug = enabled
	}
}

// OptFrameLimit caps the frames waiting for a reader of Frames. Past the cap
// frames are dropped and ErrDroppedFrame is reported. 0, the default, queues
// without bound.
func OptFrameLimit(n int) ControllerOpt {
	return func(c *Controller) {
		if n > 0 {
			c.frameLimit = n
		}
	}
}

// Controller brings a gs_usb device from disconnected to forwarding frames
// and back. Frames, errors and the connected notification are delivered on
// channels in the order they happen. Undelivered values queue without bound,
// so a slow reader never stalls the bulk-in loop or loses frames.
type Controller struct {
	transport  Transport
	onMessage  func(string)
	debug      bool
	frameLimit int

	// initMu is held for the whole of Init so a Cleanup racing a running
	// Init cannot let a second Init start before the first has unwound.
	initMu    sync.Mutex
	state     atomic.Int32
	listening atomic.Bool

	mu         sync.RWMutex
	dev        Device
	iface      Interface
	in, out    EndpointDesc
	packetSize int
	bitrate    uint32
	recvCancel context.CancelFunc
	recvDone   chan struct{}

	connected *fifo[struct{}]
	frames    *fifo[*Frame]
	errs      *fifo[error]

	stats counters
}

func NewController(t Transport, opts ...ControllerOpt) *Controller {
	c := &Controller{
		transport:  t,
		onMessage:  defaultOnMessage,
		packetSize: defaultPacketSize,
		bitrate:    DefaultBitrate,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.connected = newFIFO[struct{}](0)
	c.frames = newFIFO[*Frame](c.frameLimit)
	c.errs = newFIFO[error](0)
	return c
}

func defaultOnMessage(msg string) {
	_, file, no, ok := runtime.Caller(2)
	if ok {
		log.Printf("%s#%d %s", filepath.Base(file), no, msg)
	} else {
		log.Println(msg)
	}
}

func (c *Controller) message(msg string) {
	c.onMessage(msg)
}

func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) IsConnected() bool { return c.State() == StateConnected }

// PacketSize is the bulk-in transfer size negotiated from the endpoint descriptor.
func (c *Controller) PacketSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.packetSize
}

// Bitrate is the last bitrate successfully programmed.
func (c *Controller) Bitrate() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bitrate
}

func (c *Controller) Stats() Stats { return c.stats.snapshot() }

// Connected receives once per successful Init.
func (c *Controller) Connected() <-chan struct{} { return c.connected.out }

func (c *Controller) Frames() <-chan *Frame { return c.frames.out }

// Errors carries receive loop failures: *TransferError, ErrMalformedFrame, and
// ErrDroppedFrame when OptFrameLimit is set.
func (c *Controller) Errors() <-chan error { return c.errs.out }

// PendingFrames is the number of received frames no reader has taken yet.
func (c *Controller) PendingFrames() int { return c.frames.pending() }

// Init discovers and opens the device, claims interface 0 and sends reset,
// host format, bit timing and start. Any failure cleans up before returning.
func (c *Controller) Init(ctx context.Context, opts Options) error {
	opts = opts.withDefaults()
	if !c.initMu.TryLock() {
		return ErrBusy
	}
	defer c.initMu.Unlock()
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrBusy
	}
	if err := c.init(ctx, opts); err != nil {
		c.Cleanup()
		return err
	}
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		c.Cleanup()
		return fmt.Errorf("%w: cleaned up during init", ErrNotInitialized)
	}
	c.notifyConnected()
	return nil
}

func (c *Controller) init(ctx context.Context, opts Options) error {
	canMode, err := opts.Mode.canMode()
	if err != nil {
		return err
	}
	timing, err := ComputeBitTiming(opts.Bitrate)
	if err != nil {
		return err
	}

	dev, err := c.findDevice(ctx, opts.Retries)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.dev = dev
	c.mu.Unlock()

	iface, err := dev.ClaimInterface(0)
	if err != nil {
		return fmt.Errorf("claim interface 0: %w", err)
	}
	c.mu.Lock()
	c.iface = iface
	c.mu.Unlock()

	in, out, err := findBulkEndpoints(iface.Endpoints())
	if err != nil {
		return err
	}
	packetSize := in.MaxPacketSize
	if packetSize <= 0 {
		packetSize = defaultPacketSize
	}
	c.mu.Lock()
	c.in, c.out, c.packetSize = in, out, packetSize
	c.mu.Unlock()
	if c.debug {
		c.message(fmt.Sprintf("bulk in %s, bulk out %s", in, out))
	}

	if err := c.SetMode(ctx, ModeReset, CANModeNormal); err != nil {
		return err
	}

	hostFormat := make([]byte, 4)
	binary.LittleEndian.PutUint32(hostFormat, HostFormatMagic)
	if err := c.SendControl(ctx, BreqHostFormat, hostFormatValue, hostFormat); err != nil {
		return err
	}

	if err := c.setBitTiming(ctx, opts.Bitrate, timing); err != nil {
		return err
	}

	return c.SetMode(ctx, ModeStart, canMode)
}

func (c *Controller) findDevice(ctx context.Context, retries int) (Device, error) {
	var dev Device
	err := retry.Do(
		func() error {
			devs, err := c.transport.ListDevices(VendorID, ProductID)
			if err != nil {
				return err
			}
			if len(devs) == 0 {
				return errNoMatch
			}
			d, err := c.transport.Open(devs[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", devs[0], err)
			}
			dev = d
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(retries)),
		retry.Delay(discoveryBackoff),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.message(fmt.Sprintf("device discovery failed (%d/%d): %v", n+1, retries, err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrDeviceNotFound, retries, err)
	}
	return dev, nil
}

func (c *Controller) setBitTiming(ctx context.Context, bitrate uint32, timing BitTiming) error {
	if c.debug {
		c.message(fmt.Sprintf("bit timing for %d bps: %s", bitrate, timing))
	}
	payload, _ := timing.MarshalBinary()
	if err := c.SendControl(ctx, BreqBitTiming, 0, payload); err != nil {
		return err
	}
	c.mu.Lock()
	c.bitrate = bitrate
	c.mu.Unlock()
	return nil
}

// SetMode sends BreqMode with mode and flags.
func (c *Controller) SetMode(ctx context.Context, mode, flags uint32) error {
	data := make([]byte, modePayloadSize)
	binary.LittleEndian.PutUint32(data[0:], mode)
	binary.LittleEndian.PutUint32(data[4:], flags)
	return c.SendControl(ctx, BreqMode, 0, data)
}

// SendControl issues a host-to-device vendor request on the claimed interface.
func (c *Controller) SendControl(ctx context.Context, breq uint8, value uint16, data []byte) error {
	dev, iface := c.handles()
	if dev == nil || iface == nil {
		return ErrNotInitialized
	}
	cctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()
	if _, err := dev.Control(cctx, RequestTypeOut, breq, value, uint16(iface.Number()), data); err != nil {
		return controlError("control out", breq, err)
	}
	return nil
}

func (c *Controller) readControl(ctx context.Context, breq uint8, value uint16, size int) ([]byte, error) {
	dev, iface := c.handles()
	if dev == nil || iface == nil {
		return nil, ErrNotInitialized
	}
	cctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()
	buf := make([]byte, size)
	n, err := dev.Control(cctx, RequestTypeIn, breq, value, uint16(iface.Number()), buf)
	if err != nil {
		return nil, controlError("control in", breq, err)
	}
	if n < size {
		return nil, controlError("control in", breq, fmt.Errorf("short read %d of %d bytes", n, size))
	}
	return buf, nil
}

func (c *Controller) handles() (Device, Interface) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dev, c.iface
}

// DeviceConfig is the reply to BreqDeviceConfig.
type DeviceConfig struct {
	Reserved1 uint8
	Reserved2 uint8
	Reserved3 uint8
	ICount    uint8 // number of CAN channels minus one
	SWVersion uint32
	HWVersion uint32
}

func (dc DeviceConfig) Channels() int { return int(dc.ICount) + 1 }

func (dc DeviceConfig) String() string {
	return fmt.Sprintf("channels: %d, sw version: %d, hw version: %d", dc.Channels(), dc.SWVersion, dc.HWVersion)
}

func (c *Controller) DeviceConfig(ctx context.Context) (DeviceConfig, error) {
	if !c.IsConnected() {
		return DeviceConfig{}, ErrNotInitialized
	}
	b, err := c.readControl(ctx, BreqDeviceConfig, 1, deviceConfigSize)
	if err != nil {
		return DeviceConfig{}, err
	}
	return DeviceConfig{
		Reserved1: b[0],
		Reserved2: b[1],
		Reserved3: b[2],
		ICount:    b[3],
		SWVersion: binary.LittleEndian.Uint32(b[4:]),
		HWVersion: binary.LittleEndian.Uint32(b[8:]),
	}, nil
}

// BTConst is the reply to BreqBTConst, the timing limits of channel 0.
type BTConst struct {
	Feature  uint32
	FclkCAN  uint32
	Tseg1Min uint32
	Tseg1Max uint32
	Tseg2Min uint32
	Tseg2Max uint32
	SJWMax   uint32
	BRPMin   uint32
	BRPMax   uint32
	BRPInc   uint32
}

func (c *Controller) BitTimingConst(ctx context.Context) (BTConst, error) {
	if !c.IsConnected() {
		return BTConst{}, ErrNotInitialized
	}
	b, err := c.readControl(ctx, BreqBTConst, 0, btConstSize)
	if err != nil {
		return BTConst{}, err
	}
	var v [10]uint32
	for i := range v {
		v[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return BTConst{
		Feature: v[0], FclkCAN: v[1],
		Tseg1Min: v[2], Tseg1Max: v[3],
		Tseg2Min: v[4], Tseg2Max: v[5],
		SJWMax: v[6],
		BRPMin: v[7], BRPMax: v[8], BRPInc: v[9],
	}, nil
}

// Identify turns the identify LED blinking on or off.
func (c *Controller) Identify(ctx context.Context, on bool) error {
	if !c.IsConnected() {
		return ErrNotInitialized
	}
	data := make([]byte, 4)
	if on {
		data[0] = 1
	}
	return c.SendControl(ctx, BreqIdentify, 0, data)
}

// Send transmits data with arbitrationID as a fresh frame (echo id NoEchoID).
func (c *Controller) Send(ctx context.Context, arbitrationID uint32, data []byte) error {
	f := NewFrame(arbitrationID, data)
	f.SetEchoID(NoEchoID)
	return c.SendFrame(ctx, f)
}

// SendHex parses s with ParseHexPayload and sends it with arbitrationID.
func (c *Controller) SendHex(ctx context.Context, s string, arbitrationID uint32) error {
	data, err := ParseHexPayload(s)
	if err != nil {
		return err
	}
	return c.Send(ctx, arbitrationID, data)
}

// SendFrame transmits f as is.
func (c *Controller) SendFrame(ctx context.Context, f *Frame) error {
	if err := c.SendRaw(ctx, f.Encode()); err != nil {
		return err
	}
	c.stats.sentFrames.Add(1)
	return nil
}

// SendRaw writes buf in one bulk-out transfer.
func (c *Controller) SendRaw(ctx context.Context, buf []byte) error {
	if !c.IsConnected() {
		return ErrNotInitialized
	}
	c.mu.RLock()
	iface, out := c.iface, c.out
	c.mu.RUnlock()
	if iface == nil {
		return ErrNotInitialized
	}
	n, err := iface.Write(ctx, out, buf)
	if err != nil {
		c.stats.errors.Add(1)
		return bulkError("bulk out", err)
	}
	c.stats.sentBytes.Add(uint64(n))
	return nil
}

// StartListening starts the receive loop. Calling it while the loop runs is a no-op.
func (c *Controller) StartListening(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotInitialized
	}
	if !c.listening.CompareAndSwap(false, true) {
		return nil
	}
	rctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.recvCancel, c.recvDone = cancel, done
	iface, in, size := c.iface, c.in, c.packetSize
	c.mu.Unlock()

	go c.recvLoop(rctx, iface, in, size, done)
	return nil
}

// recvLoop keeps exactly one bulk-in read outstanding until the controller
// leaves StateConnected or ctx ends.
func (c *Controller) recvLoop(ctx context.Context, iface Interface, in EndpointDesc, size int, done chan struct{}) {
	defer close(done)
	defer c.listening.Store(false)
	if c.debug {
		defer c.message("receive loop exited")
	}

	buf := make([]byte, size)
	for c.IsConnected() {
		n, err := iface.Read(ctx, in, buf)
		if err != nil {
			if !c.IsConnected() || ctx.Err() != nil {
				return
			}
			c.reportError(bulkError("bulk in", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveBackoff):
			}
			continue
		}
		c.stats.recvBytes.Add(uint64(n))
		if n < FrameSize {
			continue
		}
		frame, err := DecodeFrame(buf[:n])
		if err != nil {
			c.reportError(err)
			continue
		}
		c.stats.recvFrames.Add(1)
		c.emitFrame(frame)
	}
}

func (c *Controller) notifyConnected() {
	c.connected.push(struct{}{})
}

func (c *Controller) emitFrame(f *Frame) {
	if !c.frames.push(f) {
		c.stats.dropped.Add(1)
		c.reportError(ErrDroppedFrame)
	}
}

func (c *Controller) reportError(err error) {
	c.stats.errors.Add(1)
	c.errs.push(err)
}

// Cleanup marks the controller disconnected, stops the receive loop and
// releases the interface and device. It is safe to call any number of times
// and only logs failures.
func (c *Controller) Cleanup() {
	c.state.Store(int32(StateDisconnected))

	c.mu.Lock()
	cancel, done := c.recvCancel, c.recvDone
	c.recvCancel, c.recvDone = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			c.message("receive loop did not stop in time")
		}
	}

	c.mu.Lock()
	dev, iface := c.dev, c.iface
	c.dev, c.iface = nil, nil
	c.mu.Unlock()

	if iface != nil {
		if err := iface.Release(); err != nil {
			c.message(fmt.Sprintf("release error: %v", err))
		}
	}
	if dev != nil {
		if err := dev.Close(); err != nil {
			c.message(fmt.Sprintf("close error: %v", err))
		}
	}
}
