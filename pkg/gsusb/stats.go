package gsusb

import (
	"fmt"
	"sync/atomic"
)

type Stats struct {
	RecvFrames    uint64
	RecvBytes     uint64
	SentFrames    uint64
	SentBytes     uint64
	Errors        uint64
	DroppedFrames uint64
}

func (st Stats) String() string {
	return fmt.Sprintf("recv: %d (%d bytes) sent: %d (%d bytes) errors: %d dropped: %d",
		st.RecvFrames, st.RecvBytes, st.SentFrames, st.SentBytes, st.Errors, st.DroppedFrames)
}

type counters struct {
	recvFrames, recvBytes atomic.Uint64
	sentFrames, sentBytes atomic.Uint64
	errors, dropped       atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		RecvFrames:    c.recvFrames.Load(),
		RecvBytes:     c.recvBytes.Load(),
		SentFrames:    c.sentFrames.Load(),
		SentBytes:     c.sentBytes.Load(),
		Errors:        c.errors.Load(),
		DroppedFrames: c.dropped.Load(),
	}
}
