package gsusb

import (
	"context"
	"fmt"
)

// Transport is the USB host side the controller drives. pkg/libusb provides
// one backed by libusb, gsusbtest an in-memory one.
type Transport interface {
	// ListDevices returns every attached device matching vid:pid.
	ListDevices(vid, pid uint16) ([]DeviceInfo, error)
	Open(DeviceInfo) (Device, error)
}

// Device is an opened USB device.
type Device interface {
	// ClaimInterface claims num, detaching an active kernel driver first
	// where the platform attaches one.
	ClaimInterface(num int) (Interface, error)
	Control(ctx context.Context, requestType, request uint8, value, index uint16, data []byte) (int, error)
	Close() error
}

// Interface is a claimed USB interface.
type Interface interface {
	Number() int
	Endpoints() []EndpointDesc
	Read(ctx context.Context, ep EndpointDesc, buf []byte) (int, error)
	Write(ctx context.Context, ep EndpointDesc, buf []byte) (int, error)
	Release() error
}

type DeviceInfo struct {
	Bus     int
	Address int
	Vendor  uint16
	Product uint16
	Serial  string
	Release string // bcdDevice as major.minor
}

func (d DeviceInfo) String() string {
	s := fmt.Sprintf("%03d.%03d %04x:%04x", d.Bus, d.Address, d.Vendor, d.Product)
	if d.Release != "" {
		s += " rel " + d.Release
	}
	if d.Serial != "" {
		s += " serial " + d.Serial
	}
	return s
}

type Direction int

const (
	DirectionOut Direction = iota
	DirectionIn
)

func (d Direction) String() string {
	if d == DirectionIn {
		return "IN"
	}
	return "OUT"
}

type TransferType int

const (
	TransferControl TransferType = iota
	TransferIsochronous
	TransferBulk
	TransferInterrupt
)

type EndpointDesc struct {
	Address       uint8
	Direction     Direction
	TransferType  TransferType
	MaxPacketSize int
}

func (e EndpointDesc) String() string {
	return fmt.Sprintf("ep 0x%02x %s max %d", e.Address, e.Direction, e.MaxPacketSize)
}

// findBulkEndpoints picks the first bulk IN and bulk OUT endpoint.
func findBulkEndpoints(eps []EndpointDesc) (in, out EndpointDesc, err error) {
	var foundIn, foundOut bool
	for _, ep := range eps {
		if ep.TransferType != TransferBulk {
			continue
		}
		switch {
		case ep.Direction == DirectionIn && !foundIn:
			in, foundIn = ep, true
		case ep.Direction == DirectionOut && !foundOut:
			out, foundOut = ep, true
		}
	}
	if !foundIn || !foundOut {
		return in, out, fmt.Errorf("%w: in=%v out=%v", ErrEndpointsNotFound, foundIn, foundOut)
	}
	return in, out, nil
}
