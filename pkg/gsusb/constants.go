package gsusb

// USB device selector
const (
	VendorID  = 0x1d50
	ProductID = 0x606f
)

// Control requests (bRequest)
const (
	BreqHostFormat   = 0 // announce host byte order
	BreqBitTiming    = 1 // set bit timing
	BreqMode         = 2 // reset / start
	BreqBerr         = 3 // bus error reporting
	BreqBTConst      = 4 // read bit timing constants
	BreqDeviceConfig = 5 // read device config
	BreqTimestamp    = 6 // read hardware timestamp
	BreqIdentify     = 7 // blink identify LED
)

// Device modes
const (
	ModeReset = 0
	ModeStart = 1
)

// CAN modes sent as flags with ModeStart
const (
	CANModeNormal         = 0
	CANModeListenOnly     = 1
	CANModeLoopback       = 2
	CANModeTripleSampling = 3
)

// bmRequestType bits
const (
	dirOut          = 0x00
	dirIn           = 0x80
	typeVendor      = 0x02 << 5
	recipInterface  = 0x01
	RequestTypeOut  = dirOut | typeVendor | recipInterface
	RequestTypeIn   = dirIn | typeVendor | recipInterface
	hostFormatValue = 0x01
)

// HostFormatMagic tells the device the host is little endian.
const HostFormatMagic uint32 = 0xEFBE0000

// Bit timing reference
const (
	Clock          = 48000000
	DefaultBitrate = 500000
	SamplePoint    = 0.875
)

// CAN id flags and masks
const (
	EFFFlag  uint32 = 0x80000000 // extended frame format
	RTRFlag  uint32 = 0x40000000 // remote transmission request
	ERRFlag  uint32 = 0x20000000 // error frame
	EFFMask  uint32 = 0x1FFFFFFF
	SFFMask  uint32 = 0x000007FF
	NoEchoID uint32 = 0xFFFFFFFF
)

// Wire sizes
const (
	FrameSize            = 20
	FrameSizeTimestamp   = 24
	MaxDLC               = 8
	bitTimingPayloadSize = 20
	modePayloadSize      = 8
	deviceConfigSize     = 12
	btConstSize          = 40
	defaultPacketSize    = 512
)

// DefaultRetries is the discovery attempt count used when Options.Retries is unset.
const DefaultRetries = 3
