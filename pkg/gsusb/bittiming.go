package gsusb

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BitTiming holds the register level timing sent with BreqBitTiming.
type BitTiming struct {
	PropSeg   uint32
	PhaseSeg1 uint32
	PhaseSeg2 uint32
	SJW       uint32
	BRP       uint32
}

// ComputeBitTiming derives the timing registers for bitrate from the 48MHz
// reference clock and a 87.5% sample point.
func ComputeBitTiming(bitrate uint32) (BitTiming, error) {
	if bitrate == 0 {
		return BitTiming{}, fmt.Errorf("%w: 0", ErrInvalidBitrate)
	}

	nominalBitTime := float64(Clock) / float64(bitrate)
	tseg1 := math.Floor(nominalBitTime * SamplePoint)
	tseg2 := nominalBitTime - tseg1 - 1

	brp := math.Floor((tseg1 + tseg2 + 1) / 16)
	if brp < 1 {
		return BitTiming{}, fmt.Errorf("%w: %d bps leaves no room for a prescaler", ErrInvalidBitrate, bitrate)
	}

	realTseg1 := math.Floor(tseg1/brp) - 1
	realTseg2 := math.Floor(tseg2/brp) - 1

	phaseSeg1 := realTseg1 - 1
	if phaseSeg1 < 0 || realTseg2 < 0 {
		return BitTiming{}, fmt.Errorf("%w: %d bps gives negative phase segments", ErrInvalidBitrate, bitrate)
	}

	return BitTiming{
		PropSeg:   1,
		PhaseSeg1: uint32(phaseSeg1),
		PhaseSeg2: uint32(realTseg2),
		SJW:       1,
		BRP:       uint32(brp),
	}, nil
}

// MarshalBinary returns the 20 byte control payload.
func (bt BitTiming) MarshalBinary() ([]byte, error) {
	b := make([]byte, bitTimingPayloadSize)
	binary.LittleEndian.PutUint32(b[0:], bt.PropSeg)
	binary.LittleEndian.PutUint32(b[4:], bt.PhaseSeg1)
	binary.LittleEndian.PutUint32(b[8:], bt.PhaseSeg2)
	binary.LittleEndian.PutUint32(b[12:], bt.SJW)
	binary.LittleEndian.PutUint32(b[16:], bt.BRP)
	return b, nil
}

func (bt BitTiming) String() string {
	return fmt.Sprintf("prop_seg: %d, phase_seg1: %d, phase_seg2: %d, sjw: %d, brp: %d",
		bt.PropSeg, bt.PhaseSeg1, bt.PhaseSeg2, bt.SJW, bt.BRP)
}
