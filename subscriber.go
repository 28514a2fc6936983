package gscan

import (
	"context"
	"fmt"
	"log"
	"sync"
)

type Subscriber struct {
	cl           *Client
	identifiers  map[uint32]struct{}
	responseChan chan *CANFrame
	closeOnce    sync.Once
}

func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.cl.fh.unregisterSubscriber(s)
	})
}

// Chan is closed when the subscriber is closed.
func (s *Subscriber) Chan() <-chan *CANFrame {
	return s.responseChan
}

func (s *Subscriber) deliver(frame *CANFrame) {
	select {
	case s.responseChan <- frame:
	default:
		log.Printf("failed to deliver 0x%03X", frame.Identifier)
	}
}

func (s *Subscriber) wait(ctx context.Context) (*CANFrame, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("timeout: %w", ctx.Err())
	case frame, ok := <-s.responseChan:
		if !ok {
			return nil, ErrResponsechannelClosed
		}
		return frame, nil
	}
}
